// Package fanout runs independent agent calls concurrently and joins their
// replies by name.
package fanout

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner answers a prompt given some context. *agents.Agent implements it.
type Runner interface {
	Run(ctx context.Context, input, contextText string) (string, error)
}

// Task is one call in a fan-out. Name keys the result; when empty, the
// runner's Name() is used if it has one.
type Task struct {
	Name    string
	Agent   Runner
	Prompt  string
	Context string
}

// Results holds the outcome of Collect.
type Results struct {
	Values map[string]string
	Errors map[string]error
}

// Err summarizes the failed tasks, or returns nil.
func (r Results) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Errors))
	for name := range r.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	msgs := make([]string, 0, len(names))
	for _, name := range names {
		msgs = append(msgs, name+": "+r.Errors[name].Error())
	}
	return eris.Errorf("fanout: %d of %d tasks failed: %s",
		len(r.Errors), len(r.Errors)+len(r.Values), strings.Join(msgs, "; "))
}

// Option configures a fan-out.
type Option func(*settings)

type settings struct {
	limit int
}

// WithLimit caps how many tasks run at once. The default is unlimited.
func WithLimit(n int) Option {
	return func(s *settings) { s.limit = n }
}

// Run executes every task concurrently and returns all replies. The first
// failure cancels the remaining tasks and Run returns only that error; no
// partial results are returned.
func Run(ctx context.Context, tasks []Task, opts ...Option) (map[string]string, error) {
	names, err := taskNames(tasks)
	if err != nil {
		return nil, err
	}
	s := apply(opts)

	g, gCtx := errgroup.WithContext(ctx)
	if s.limit > 0 {
		g.SetLimit(s.limit)
	}

	var mu sync.Mutex
	out := make(map[string]string, len(tasks))
	for i, t := range tasks {
		name := names[i]
		g.Go(func() error {
			reply, runErr := runOne(gCtx, name, t)
			if runErr != nil {
				return eris.Wrapf(runErr, "fanout: task %s", name)
			}
			mu.Lock()
			out[name] = reply
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Collect executes every task concurrently and waits for all of them. A
// failing task does not cancel the others; its error is reported under
// its name.
func Collect(ctx context.Context, tasks []Task, opts ...Option) (Results, error) {
	names, err := taskNames(tasks)
	if err != nil {
		return Results{}, err
	}
	s := apply(opts)

	var g errgroup.Group
	if s.limit > 0 {
		g.SetLimit(s.limit)
	}

	var mu sync.Mutex
	res := Results{Values: make(map[string]string, len(tasks)), Errors: map[string]error{}}
	for i, t := range tasks {
		name := names[i]
		g.Go(func() error {
			reply, runErr := runOne(ctx, name, t)
			mu.Lock()
			defer mu.Unlock()
			if runErr != nil {
				res.Errors[name] = runErr
				return nil
			}
			res.Values[name] = reply
			return nil
		})
	}
	_ = g.Wait()
	return res, nil
}

func runOne(ctx context.Context, name string, t Task) (string, error) {
	start := time.Now()
	reply, err := t.Agent.Run(ctx, t.Prompt, t.Context)
	if err != nil {
		zap.L().Warn("fanout: task failed",
			zap.String("task", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return "", err
	}
	zap.L().Debug("fanout: task complete",
		zap.String("task", name),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("reply_chars", len(reply)),
	)
	return reply, nil
}

// taskNames resolves each task's result key and rejects unnamed or
// duplicate tasks before anything runs.
func taskNames(tasks []Task) ([]string, error) {
	names := make([]string, len(tasks))
	seen := make(map[string]bool, len(tasks))
	for i, t := range tasks {
		if t.Agent == nil {
			return nil, eris.Errorf("fanout: task %d has no agent", i)
		}
		name := t.Name
		if name == "" {
			if n, ok := t.Agent.(interface{ Name() string }); ok {
				name = n.Name()
			}
		}
		if name == "" {
			return nil, eris.Errorf("fanout: task %d has no name", i)
		}
		if seen[name] {
			return nil, eris.Errorf("fanout: duplicate task name %q", name)
		}
		seen[name] = true
		names[i] = name
	}
	return names, nil
}

func apply(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
