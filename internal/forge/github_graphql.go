package forge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// graphqlRequest is the standard GraphQL-over-HTTP envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// doGraphQL issues one GraphQL query/mutation against the v4 API and
// decodes its data field into out. Grounded on the same doREST transport
// (Bearer auth, size-capped body read); GraphQL needs its own envelope
// since the teacher's REST-only gh-CLI wrapper has no GraphQL call at all.
func (c *GitHubClient) doGraphQL(ctx context.Context, query string, variables map[string]any, out any) error {
	encoded, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encode graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlEndpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graphql request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read graphql response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("graphql request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded graphqlResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("parse graphql response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", decoded.Errors[0].Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Data, out); err != nil {
		return fmt.Errorf("parse graphql data: %w", err)
	}
	return nil
}

const statusFieldName = "Status"

// GetProjectItemStatus resolves a project-V2 item's single-select status
// option name via ProjectV2Item.fieldValueByName.
func (c *GitHubClient) GetProjectItemStatus(ctx context.Context, projectID, itemID string) (string, error) {
	const query = `
query($itemID: ID!) {
  node(id: $itemID) {
    ... on ProjectV2Item {
      fieldValueByName(name: "Status") {
        ... on ProjectV2ItemFieldSingleSelectValue {
          name
        }
      }
    }
  }
}`
	var out struct {
		Node struct {
			FieldValueByName struct {
				Name string `json:"name"`
			} `json:"fieldValueByName"`
		} `json:"node"`
	}
	if err := c.doGraphQL(ctx, query, map[string]any{"itemID": itemID}, &out); err != nil {
		return "", fmt.Errorf("get project item status: %w", err)
	}
	return out.Node.FieldValueByName.Name, nil
}

// resolveStatusField looks up the project's Status field id and the option
// id matching the named column, required before updateProjectV2ItemFieldValue
// can move a card (the mutation takes option ids, not names).
func (c *GitHubClient) resolveStatusField(ctx context.Context, projectID, column string) (fieldID, optionID string, err error) {
	const query = `
query($projectID: ID!) {
  node(id: $projectID) {
    ... on ProjectV2 {
      fields(first: 50) {
        nodes {
          ... on ProjectV2SingleSelectField {
            id
            name
            options { id name }
          }
        }
      }
    }
  }
}`
	var out struct {
		Node struct {
			Fields struct {
				Nodes []struct {
					ID      string `json:"id"`
					Name    string `json:"name"`
					Options []struct {
						ID   string `json:"id"`
						Name string `json:"name"`
					} `json:"options"`
				} `json:"nodes"`
			} `json:"fields"`
		} `json:"node"`
	}
	if err := c.doGraphQL(ctx, query, map[string]any{"projectID": projectID}, &out); err != nil {
		return "", "", fmt.Errorf("resolve status field: %w", err)
	}
	for _, field := range out.Node.Fields.Nodes {
		if field.Name != statusFieldName {
			continue
		}
		for _, option := range field.Options {
			if strings.EqualFold(option.Name, column) {
				return field.ID, option.ID, nil
			}
		}
		return "", "", fmt.Errorf("status field has no option named %q", column)
	}
	return "", "", fmt.Errorf("project has no %q field", statusFieldName)
}

// MoveProjectItemToColumn sets a project-V2 item's Status field via
// updateProjectV2ItemFieldValue, resolving option ids from the field schema
// first since the mutation does not accept option names directly.
func (c *GitHubClient) MoveProjectItemToColumn(ctx context.Context, projectID, itemID, column string) error {
	fieldID, optionID, err := c.resolveStatusField(ctx, projectID, column)
	if err != nil {
		return err
	}

	const mutation = `
mutation($projectID: ID!, $itemID: ID!, $fieldID: ID!, $optionID: String!) {
  updateProjectV2ItemFieldValue(input: {
    projectId: $projectID,
    itemId: $itemID,
    fieldId: $fieldID,
    value: { singleSelectOptionId: $optionID }
  }) {
    projectV2Item { id }
  }
}`
	variables := map[string]any{
		"projectID": projectID,
		"itemID":    itemID,
		"fieldID":   fieldID,
		"optionID":  optionID,
	}
	if err := c.doGraphQL(ctx, mutation, variables, nil); err != nil {
		return fmt.Errorf("move project item to %s: %w", column, err)
	}
	return nil
}

// AddItemToProject links a content node (issue or PR) to a project-V2
// board via addProjectV2ItemById and returns the new item's id.
func (c *GitHubClient) AddItemToProject(ctx context.Context, projectID, contentID string) (string, error) {
	const mutation = `
mutation($projectID: ID!, $contentID: ID!) {
  addProjectV2ItemById(input: { projectId: $projectID, contentId: $contentID }) {
    item { id }
  }
}`
	var out struct {
		AddProjectV2ItemByID struct {
			Item struct {
				ID string `json:"id"`
			} `json:"item"`
		} `json:"addProjectV2ItemById"`
	}
	if err := c.doGraphQL(ctx, mutation, map[string]any{"projectID": projectID, "contentID": contentID}, &out); err != nil {
		return "", fmt.Errorf("add item to project: %w", err)
	}
	return out.AddProjectV2ItemByID.Item.ID, nil
}

// GetProjectItemContent resolves a project-V2 item's underlying issue
// content (title, body, number, repository) by the item's node id, used by
// webhook intake to materialize a Task from a board-item-created event
// without a separate REST lookup.
func (c *GitHubClient) GetProjectItemContent(ctx context.Context, itemID string) (*ProjectItemContent, error) {
	const query = `
query($itemID: ID!) {
  node(id: $itemID) {
    ... on ProjectV2Item {
      content {
        ... on Issue {
          id
          number
          title
          body
          repository { nameWithOwner }
        }
      }
    }
  }
}`
	var out struct {
		Node struct {
			Content struct {
				ID         string `json:"id"`
				Number     int    `json:"number"`
				Title      string `json:"title"`
				Body       string `json:"body"`
				Repository struct {
					NameWithOwner string `json:"nameWithOwner"`
				} `json:"repository"`
			} `json:"content"`
		} `json:"node"`
	}
	if err := c.doGraphQL(ctx, query, map[string]any{"itemID": itemID}, &out); err != nil {
		return nil, fmt.Errorf("get project item content: %w", err)
	}
	return &ProjectItemContent{
		ContentNodeID:      out.Node.Content.ID,
		IssueNumber:        out.Node.Content.Number,
		Title:              out.Node.Content.Title,
		Body:               out.Node.Content.Body,
		RepositoryFullName: out.Node.Content.Repository.NameWithOwner,
	}, nil
}

func decodeBase64Content(encoded string) ([]byte, error) {
	cleaned := strings.ReplaceAll(encoded, "\n", "")
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decode base64 file content: %w", err)
	}
	return decoded, nil
}
