package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/stellarlinkco/capkit/pkg/schema"
	"github.com/stellarlinkco/capkit/pkg/toolctx"
)

func newTestExecutor(t *testing.T, opts ...Option) (*Executor, *Registry, *GroupManager) {
	t.Helper()
	r := NewRegistry()
	g := NewGroupManager(zerolog.Nop())
	return NewExecutor(r, g, opts...), r, g
}

func mustRegister(t *testing.T, r *Registry, tl Tool, reg Registration) {
	t.Helper()
	_, err := r.Register(tl.Name(), tl, reg)
	require.NoError(t, err)
}

func failingTool(name string, err error) *FuncTool {
	return NewFuncTool(name, "", nil, func(context.Context, Call) ([]Segment, error) {
		return nil, err
	})
}

func TestExecuteBatchWithMiddleFailure(t *testing.T) {
	e, r, _ := newTestExecutor(t)
	mustRegister(t, r, echoTool("ok", nil), Registration{})
	mustRegister(t, r, failingTool("boom", errors.New("disk full")), Registration{})

	reqs := []Request{
		{ID: "1", Name: "ok"},
		{ID: "2", Name: "boom"},
		{ID: "3", Name: "ok"},
	}
	for _, sequential := range []bool{false, true} {
		results := e.Execute(context.Background(), reqs, toolctx.Chain{}, sequential)
		require.Len(t, results, 3)
		require.False(t, results[0].IsError)
		require.True(t, results[1].IsError)
		require.Equal(t, "Tool execution failed: disk full", results[1].Text())
		require.False(t, results[2].IsError)
		for i, res := range results {
			require.Equal(t, reqs[i].ID, res.ID)
			require.Equal(t, reqs[i].Name, res.Name)
		}
	}
}

func TestExecuteCardinality(t *testing.T) {
	e, r, g := newTestExecutor(t)
	mustRegister(t, r, echoTool("ok", nil), Registration{})
	mustRegister(t, r, echoTool("locked", nil), Registration{})
	require.NoError(t, g.CreateGroup("off", "", false))
	g.AddToGroup("off", "locked")

	names := []string{"ok", "missing", "locked"}
	for n := 0; n <= 20; n++ {
		reqs := make([]Request, n)
		for i := range reqs {
			reqs[i] = Request{ID: fmt.Sprintf("call-%d", i), Name: names[i%len(names)]}
		}
		results := e.Execute(context.Background(), reqs, toolctx.Chain{}, n%2 == 0)
		require.Len(t, results, n)
		for i := range results {
			require.Equal(t, reqs[i].ID, results[i].ID)
		}
	}
}

func TestExecuteUniformErrorShape(t *testing.T) {
	s := schema.Object(map[string]schema.Schema{"n": schema.Integer("")}, "n")
	e, r, g := newTestExecutor(t)
	mustRegister(t, r, echoTool("typed", s), Registration{})
	mustRegister(t, r, failingTool("internal", errors.New("index out of range")), Registration{})
	mustRegister(t, r, failingTool("cancelled", fmt.Errorf("fetch page: %w", context.Canceled)), Registration{})
	mustRegister(t, r, failingTool("deadline", fmt.Errorf("fetch page: %w", context.DeadlineExceeded)), Registration{})
	mustRegister(t, r, NewFuncTool("panics", "", nil, func(context.Context, Call) ([]Segment, error) {
		panic("nil map write")
	}), Registration{})
	mustRegister(t, r, NewDeclaredTool("remote", "", nil), Registration{})
	mustRegister(t, r, echoTool("locked", nil), Registration{})
	require.NoError(t, g.CreateGroup("off", "", false))
	g.AddToGroup("off", "locked")

	cases := map[string]struct {
		req  Request
		want string
	}{
		"argument":  {Request{ID: "a", Name: "typed", Payload: map[string]any{"n": "x"}}, "field n: expected integer but got string"},
		"internal":  {Request{ID: "b", Name: "internal"}, "index out of range"},
		"cancelled": {Request{ID: "c", Name: "cancelled"}, "fetch page: context canceled"},
		"deadline":  {Request{ID: "d", Name: "deadline"}, "fetch page: context deadline exceeded"},
		"panic":     {Request{ID: "e", Name: "panics"}, "panic: nil map write"},
		"declared":  {Request{ID: "f", Name: "remote"}, "remote: " + ErrDeclaredOnly.Error()},
		"unknown":   {Request{ID: "g", Name: "nope"}, "unknown tool: nope"},
		"inactive":  {Request{ID: "h", Name: "locked"}, "unauthorized: tool group inactive for locked"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := e.Execute(context.Background(), []Request{tc.req}, toolctx.Chain{}, false)
			require.Len(t, res, 1)
			require.True(t, res[0].IsError)
			require.Len(t, res[0].Segments, 1)
			require.Equal(t, SegmentText, res[0].Segments[0].Kind)
			require.True(t, strings.HasPrefix(res[0].Text(), ErrorPrefix))
			require.Equal(t, ErrorPrefix+tc.want, res[0].Text())
		})
	}
}

func TestExecuteValidationFailureSkipsTool(t *testing.T) {
	var calls atomic.Int32
	s := schema.Object(map[string]schema.Schema{"q": schema.String("")}, "q")
	e, r, _ := newTestExecutor(t)
	mustRegister(t, r, NewFuncTool("search", "", s, func(context.Context, Call) ([]Segment, error) {
		calls.Add(1)
		return nil, nil
	}), Registration{})

	res := e.Execute(context.Background(), []Request{{ID: "1", Name: "search"}}, toolctx.Chain{}, false)
	require.Equal(t, ErrorPrefix+"missing required field: q", res[0].Text())
	require.Zero(t, calls.Load())
}

func TestExecutePresetsYieldToCaller(t *testing.T) {
	e, r, _ := newTestExecutor(t)
	mustRegister(t, r, NewFuncTool("x", "", nil, func(_ context.Context, call Call) ([]Segment, error) {
		return []Segment{Text(fmt.Sprint(call.Payload["x"]))}, nil
	}), Registration{Presets: map[string]any{"x": 1}})

	res := e.Execute(context.Background(), []Request{
		{ID: "1", Name: "x", Payload: map[string]any{"x": 2}},
		{ID: "2", Name: "x"},
	}, toolctx.Chain{}, false)
	require.Equal(t, "2", res[0].Text())
	require.Equal(t, "1", res[1].Text())
}

func TestExecutePresetsSatisfyRequired(t *testing.T) {
	s := schema.Object(map[string]schema.Schema{"api_key": schema.String(""), "q": schema.String("")}, "api_key", "q")
	e, r, _ := newTestExecutor(t)
	mustRegister(t, r, echoTool("search", s), Registration{Presets: map[string]any{"api_key": "k"}})

	res := e.Execute(context.Background(), []Request{{ID: "1", Name: "search", Payload: map[string]any{"q": "go"}}}, toolctx.Chain{}, false)
	require.False(t, res[0].IsError, res[0].Text())
}

func TestExecuteMergesContextByPriority(t *testing.T) {
	e, r, _ := newTestExecutor(t)
	tl := NewFuncTool("ctx", "", nil, func(_ context.Context, call Call) ([]Segment, error) {
		session, _ := toolctx.GetKeyed[string](call.Context, "session")
		env, _ := toolctx.GetKeyed[string](call.Context, "env")
		return []Segment{Text(session + "/" + env)}, nil
	})
	mustRegister(t, r, tl, Registration{Defaults: toolctx.New(toolctx.Keyed("env", "dev"), toolctx.Keyed("session", "default"))})

	agent := toolctx.New(toolctx.Keyed("env", "prod"))
	reqs := []Request{
		{ID: "1", Name: "ctx", Context: toolctx.New(toolctx.Keyed("session", "X"))},
		{ID: "2", Name: "ctx"},
	}
	res := e.Execute(context.Background(), reqs, agent, false)
	require.Equal(t, "X/prod", res[0].Text())
	require.Equal(t, "default/prod", res[1].Text())

	res = e.Execute(context.Background(), reqs[1:], toolctx.Chain{}, false)
	require.Equal(t, "default/dev", res[0].Text())
}

func TestExecuteIsolatesPayload(t *testing.T) {
	e, r, _ := newTestExecutor(t)
	mustRegister(t, r, NewFuncTool("mut", "", nil, func(_ context.Context, call Call) ([]Segment, error) {
		call.Payload["added"] = true
		call.Payload["nested"].(map[string]any)["k"] = "changed"
		return nil, nil
	}), Registration{})

	payload := map[string]any{"nested": map[string]any{"k": "v"}}
	res := e.Execute(context.Background(), []Request{{ID: "1", Name: "mut", Payload: payload}}, toolctx.Chain{}, false)
	require.False(t, res[0].IsError)
	require.NotContains(t, payload, "added")
	require.Equal(t, "v", payload["nested"].(map[string]any)["k"])
}

func TestExecuteSequentialOrdering(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(ev string) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	e, r, _ := newTestExecutor(t)
	mustRegister(t, r, NewFuncTool("step", "", nil, func(_ context.Context, call Call) ([]Segment, error) {
		record("start " + call.ID)
		time.Sleep(5 * time.Millisecond)
		record("end " + call.ID)
		if call.ID == "2" {
			return nil, errors.New("step failed")
		}
		return []Segment{Text(call.ID)}, nil
	}), Registration{})

	reqs := []Request{{ID: "1", Name: "step"}, {ID: "2", Name: "step"}, {ID: "3", Name: "step"}}
	res := e.Execute(context.Background(), reqs, toolctx.Chain{}, true)

	require.Equal(t, []string{"start 1", "end 1", "start 2", "end 2", "start 3", "end 3"}, events)
	require.True(t, res[1].IsError)
	require.Equal(t, "3", res[2].Text())
}

func TestExecuteParallelRunsConcurrently(t *testing.T) {
	const n = 4
	var started sync.WaitGroup
	started.Add(n)
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()

	e, r, _ := newTestExecutor(t)
	mustRegister(t, r, NewFuncTool("wait", "", nil, func(ctx context.Context, call Call) ([]Segment, error) {
		started.Done()
		select {
		case <-allStarted:
			return []Segment{Text(call.ID)}, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("calls did not overlap")
		}
	}), Registration{})

	reqs := make([]Request, n)
	for i := range reqs {
		reqs[i] = Request{ID: fmt.Sprint(i), Name: "wait"}
	}
	res := e.Execute(context.Background(), reqs, toolctx.Chain{}, false)
	for i, r := range res {
		require.False(t, r.IsError, r.Text())
		require.Equal(t, fmt.Sprint(i), r.Text())
	}
}

func TestExecuteMaxConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	e, r, _ := newTestExecutor(t, WithMaxConcurrency(2))
	mustRegister(t, r, NewFuncTool("slow", "", nil, func(context.Context, Call) ([]Segment, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	}), Registration{})

	reqs := make([]Request, 8)
	for i := range reqs {
		reqs[i] = Request{ID: fmt.Sprint(i), Name: "slow"}
	}
	res := e.Execute(context.Background(), reqs, toolctx.Chain{}, false)
	require.Len(t, res, 8)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecuteCallTimeoutIsOrdinaryFailure(t *testing.T) {
	e, r, _ := newTestExecutor(t, WithCallTimeout(10*time.Millisecond))
	mustRegister(t, r, NewFuncTool("hang", "", nil, func(ctx context.Context, _ Call) ([]Segment, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), Registration{})

	res := e.Execute(context.Background(), []Request{{ID: "1", Name: "hang"}}, toolctx.Chain{}, false)
	require.Equal(t, ErrorPrefix+"context deadline exceeded", res[0].Text())
}

func TestExecuteNotifiesObservers(t *testing.T) {
	var starts, finishes atomic.Int32
	obs := ObserverFuncs{
		Start:  func(Request) { starts.Add(1) },
		Finish: func(Result, time.Duration) { finishes.Add(1) },
	}
	e, r, _ := newTestExecutor(t, WithObserver(obs))
	mustRegister(t, r, echoTool("ok", nil), Registration{})

	e.Execute(context.Background(), []Request{{ID: "1", Name: "ok"}, {ID: "2", Name: "missing"}}, toolctx.Chain{}, false)
	assert.Equal(t, int32(2), starts.Load())
	assert.Equal(t, int32(2), finishes.Load())
}

func TestExecuteRecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	e, r, _ := newTestExecutor(t, WithTracerProvider(tp))
	mustRegister(t, r, echoTool("ok", nil), Registration{})

	e.Execute(context.Background(), []Request{{ID: "1", Name: "ok"}, {ID: "2", Name: "missing"}}, toolctx.Chain{}, true)

	spans := sr.Ended()
	require.Len(t, spans, 3)
	byCall := map[string]sdktrace.ReadOnlySpan{}
	var batch sdktrace.ReadOnlySpan
	for _, s := range spans {
		switch s.Name() {
		case "tool.batch":
			batch = s
		case "tool.execute":
			for _, kv := range s.Attributes() {
				if kv.Key == "tool.call_id" {
					byCall[kv.Value.AsString()] = s
				}
			}
		}
	}
	require.NotNil(t, batch)
	require.Len(t, byCall, 2)
	require.Equal(t, codes.Unset, byCall["1"].Status().Code)
	require.Equal(t, codes.Error, byCall["2"].Status().Code)
	require.Equal(t, batch.SpanContext().SpanID(), byCall["1"].Parent().SpanID())
}

func TestExecuteEmptyBatch(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	require.Empty(t, e.Execute(context.Background(), nil, toolctx.Chain{}, false))
}
