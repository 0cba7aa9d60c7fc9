package agentpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunAllCollectsOutcomes(t *testing.T) {
	p := New(2)
	require.NoError(t, p.Add("a", func(_ context.Context) (any, error) { return "ok-a", nil }))
	require.NoError(t, p.Add("b", func(_ context.Context) (any, error) { return nil, errors.New("boom") }))

	var transitions sync.Map
	results := p.RunAll(context.Background(), func(id string, status RunStatus) {
		list, _ := transitions.LoadOrStore(id, &[]RunStatus{})
		ptr := list.(*[]RunStatus)
		*ptr = append(*ptr, status)
	})

	require.Len(t, results, 2)
	require.Equal(t, "ok-a", results["a"].Value)
	require.NoError(t, results["a"].Err)
	require.Error(t, results["b"].Err)
}

func TestAddDuplicateIDIsError(t *testing.T) {
	p := New(1)
	require.NoError(t, p.Add("a", func(_ context.Context) (any, error) { return nil, nil }))
	require.Error(t, p.Add("a", func(_ context.Context) (any, error) { return nil, nil }))
}

func TestConcurrencyIsBounded(t *testing.T) {
	p := New(2)
	var active, maxActive int32
	var mu sync.Mutex

	for i := 0; i < 6; i++ {
		require.NoError(t, p.Add(string(rune('a'+i)), func(_ context.Context) (any, error) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			return nil, nil
		}))
	}

	p.RunAll(context.Background(), nil)
	require.LessOrEqual(t, maxActive, int32(2))
}

func TestStopSkipsPendingRunners(t *testing.T) {
	p := New(1)
	started := make(chan struct{})
	blocked := make(chan struct{})

	require.NoError(t, p.Add("blocker", func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	require.NoError(t, p.Add("never-runs", func(_ context.Context) (any, error) {
		close(blocked)
		return "should not happen", nil
	}))

	go func() {
		<-started
		p.Stop()
	}()

	results := p.RunAll(context.Background(), nil)
	require.Error(t, results["blocker"].Err)
	_, ranSecond := results["never-runs"]
	require.False(t, ranSecond)

	select {
	case <-blocked:
		t.Fatal("second runner should have been skipped after Stop")
	default:
	}
}
