package forge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestGitHubClient(t *testing.T, handler http.HandlerFunc) *GitHubClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewGitHubClient("acme", "widgets", "test-token")
	c.apiEndpoint = server.URL
	c.graphqlEndpoint = server.URL + "/graphql"
	c.httpClient = server.Client()
	return c
}

func TestGetPRParsesResponse(t *testing.T) {
	c := newTestGitHubClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/widgets/pulls/42", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"number":   42,
			"html_url": "https://github.com/acme/widgets/pull/42",
			"state":    "open",
			"head":     map[string]string{"ref": "feature/x", "sha": "abc123"},
			"base":     map[string]string{"ref": "main", "sha": "def456"},
		})
	})

	pr, err := c.GetPR(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, 42, pr.Number)
	require.Equal(t, "feature/x", pr.HeadBranch)
	require.False(t, pr.IsMerged())
}

func TestGetPRNotFoundReturnsErrNotFound(t *testing.T) {
	c := newTestGitHubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})

	_, err := c.GetPR(context.Background(), "99")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreatePRReusesExisting(t *testing.T) {
	created := false
	c := newTestGitHubClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/acme/widgets/pulls":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"number": 7, "state": "open", "head": map[string]string{"ref": "feature/y"}, "base": map[string]string{"ref": "main"}},
			})
		case r.Method == http.MethodPost:
			created = true
			_ = json.NewEncoder(w).Encode(map[string]any{"number": 8})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	pr, err := c.GetOrCreatePR(context.Background(), PRCreateOptions{Head: "feature/y", Base: "main"})
	require.NoError(t, err)
	require.Equal(t, 7, pr.Number)
	require.False(t, created)
}

func TestGetFileContentDecodesBase64(t *testing.T) {
	c := newTestGitHubClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/widgets/contents/src/main.go", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content":  "aGVsbG8=",
			"encoding": "base64",
		})
	})

	content, err := c.GetFileContent(context.Background(), "main", "src/main.go")
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))
}

func TestMoveProjectItemToColumnResolvesOptionThenMutates(t *testing.T) {
	var gotMutation bool
	c := newTestGitHubClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Variables["fieldID"] == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{
					"node": map[string]any{
						"fields": map[string]any{
							"nodes": []map[string]any{
								{
									"id":   "field-1",
									"name": "Status",
									"options": []map[string]any{
										{"id": "opt-done", "name": "Done"},
										{"id": "opt-todo", "name": "Todo"},
									},
								},
							},
						},
					},
				},
			})
			return
		}

		gotMutation = true
		require.Equal(t, "opt-done", req.Variables["optionID"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"updateProjectV2ItemFieldValue": map[string]any{"projectV2Item": map[string]any{"id": "item-1"}}},
		})
	})

	err := c.MoveProjectItemToColumn(context.Background(), "proj-1", "item-1", "Done")
	require.NoError(t, err)
	require.True(t, gotMutation)
}

func TestDoGraphQLSurfacesGraphQLErrors(t *testing.T) {
	c := newTestGitHubClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]string{{"message": "field does not exist"}},
		})
	})

	var out any
	err := c.doGraphQL(context.Background(), "query{}", nil, &out)
	require.ErrorContains(t, err, "field does not exist")
}
