package fanout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcRunner func(ctx context.Context, input, contextText string) (string, error)

func (f funcRunner) Run(ctx context.Context, input, contextText string) (string, error) {
	return f(ctx, input, contextText)
}

type namedRunner struct {
	funcRunner
	name string
}

func (n namedRunner) Name() string { return n.name }

func echo(prefix string) funcRunner {
	return func(_ context.Context, input, contextText string) (string, error) {
		return prefix + ":" + input + "|" + contextText, nil
	}
}

func failing(err error) funcRunner {
	return func(context.Context, string, string) (string, error) { return "", err }
}

// blocking waits for cancellation and counts how many calls observed it.
func blocking(cancelled *atomic.Int32) funcRunner {
	return func(ctx context.Context, _, _ string) (string, error) {
		select {
		case <-ctx.Done():
			cancelled.Add(1)
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "late", nil
		}
	}
}

func TestRun_AllSucceed(t *testing.T) {
	t.Parallel()
	out, err := Run(context.Background(), []Task{
		{Name: "analyst", Agent: echo("a"), Prompt: "p1", Context: "c1"},
		{Name: "radar", Agent: echo("r"), Prompt: "p2"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"analyst": "a:p1|c1", "radar": "r:p2|"}, out)
}

func TestRun_FirstFailureAbortsAll(t *testing.T) {
	t.Parallel()
	boom := errors.New("rate limited")
	var cancelled atomic.Int32

	out, err := Run(context.Background(), []Task{
		{Name: "analyst", Agent: blocking(&cancelled)},
		{Name: "risk_officer", Agent: failing(boom)},
		{Name: "radar", Agent: blocking(&cancelled)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "risk_officer")
	assert.Nil(t, out, "no partial results")
	assert.Equal(t, int32(2), cancelled.Load())
}

func TestCollect_PartialResults(t *testing.T) {
	t.Parallel()
	boom := errors.New("timeout")

	res, err := Collect(context.Background(), []Task{
		{Name: "analyst", Agent: echo("a"), Prompt: "p"},
		{Name: "risk_officer", Agent: failing(boom)},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"analyst": "a:p|"}, res.Values)
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors["risk_officer"], boom)

	summary := res.Err()
	require.Error(t, summary)
	assert.Contains(t, summary.Error(), "1 of 2 tasks failed")
	assert.Contains(t, summary.Error(), "risk_officer: timeout")
}

func TestCollect_NoErrors(t *testing.T) {
	t.Parallel()
	res, err := Collect(context.Background(), []Task{{Name: "a", Agent: echo("x")}})
	require.NoError(t, err)
	assert.NoError(t, res.Err())
}

func TestRun_NamesFromRunner(t *testing.T) {
	t.Parallel()
	out, err := Run(context.Background(), []Task{
		{Agent: namedRunner{funcRunner: echo("x"), name: "Radar"}, Prompt: "p"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Radar")
}

func TestRun_RejectsBadTasks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		tasks []Task
		want  string
	}{
		{"duplicate", []Task{{Name: "a", Agent: echo("1")}, {Name: "a", Agent: echo("2")}}, "duplicate task name"},
		{"unnamed", []Task{{Agent: echo("1")}}, "has no name"},
		{"no agent", []Task{{Name: "a"}}, "has no agent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), tt.tasks)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			_, err = Collect(context.Background(), tt.tasks)
			require.Error(t, err)
		})
	}
}

func TestRun_Limit(t *testing.T) {
	t.Parallel()
	var inFlight, peak atomic.Int32
	r := funcRunner(func(context.Context, string, string) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return "ok", nil
	})

	tasks := []Task{{Name: "a", Agent: r}, {Name: "b", Agent: r}, {Name: "c", Agent: r}, {Name: "d", Agent: r}}
	out, err := Run(context.Background(), tasks, WithLimit(2))
	require.NoError(t, err)
	assert.Len(t, out, 4)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_Empty(t *testing.T) {
	t.Parallel()
	out, err := Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
