package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stellarlinkco/capkit/pkg/toolctx"
)

// Executor runs batches of requests against a registry. Every request yields
// exactly one Result; failures never escape as errors.
type Executor struct {
	registry *Registry
	groups   *GroupManager
	opts     options
}

// NewExecutor constructs an executor. Nil collaborators are replaced with
// empty ones so callers never receive a nil executor by accident.
func NewExecutor(registry *Registry, groups *GroupManager, opts ...Option) *Executor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if groups == nil {
		groups = NewGroupManager(o.logger)
	}
	return &Executor{registry: registry, groups: groups, opts: o}
}

// dispatch is an accepted and authorised request ready to run.
type dispatch struct {
	entry *Entry
	call  Call
}

// Execute runs reqs and returns one result per request in input order. In
// sequential mode each call completes before the next starts and a failure
// never stops the remaining calls.
func (e *Executor) Execute(ctx context.Context, reqs []Request, session toolctx.Chain, sequential bool) []Result {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	batchID := uuid.NewString()
	mode := "parallel"
	if sequential {
		mode = "sequential"
	}
	ctx, span := e.opts.tracer.Start(ctx, "tool.batch", trace.WithAttributes(
		attribute.String("tool.batch_id", batchID),
		attribute.Int("tool.batch_size", len(reqs)),
		attribute.String("tool.mode", mode),
	))
	defer span.End()
	log := e.opts.logger.With().Str("component", "executor").Str("batch_id", batchID).Logger()
	log.Debug().Int("size", len(reqs)).Str("mode", mode).Msg("batch accepted")

	run := func(i int) {
		results[i] = e.runOne(ctx, reqs[i], session)
		if results[i].IsError {
			log.Debug().Str("tool", reqs[i].Name).Str("call_id", reqs[i].ID).Msg("call failed")
		}
	}

	if sequential {
		for i := range reqs {
			run(i)
		}
	} else {
		var sem chan struct{}
		if e.opts.maxConcurrency > 0 {
			sem = make(chan struct{}, e.opts.maxConcurrency)
		}
		var wg sync.WaitGroup
		wg.Add(len(reqs))
		for i := range reqs {
			go func(idx int) {
				defer wg.Done()
				if sem != nil {
					sem <- struct{}{}
					defer func() { <-sem }()
				}
				run(idx)
			}(i)
		}
		wg.Wait()
	}

	failed := 0
	for _, r := range results {
		if r.IsError {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("tool.failed", failed))
	log.Debug().Int("failed", failed).Msg("batch finished")
	return results
}

func (e *Executor) runOne(ctx context.Context, req Request, session toolctx.Chain) Result {
	started := time.Now()
	for _, o := range e.opts.observers {
		o.OnStart(req)
	}

	ctx, span := e.opts.tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.name", req.Name),
		attribute.String("tool.call_id", req.ID),
	))
	var res Result
	if d, rejected := e.accept(req, session); rejected != nil {
		res = *rejected
	} else {
		segs, err := e.invoke(ctx, d)
		if err != nil {
			res = failure(req, err.Error())
		} else {
			res = Result{ID: req.ID, Name: req.Name, Segments: segs}
		}
	}
	if res.IsError {
		span.SetStatus(codes.Error, res.Text())
	}
	span.SetAttributes(attribute.Bool("tool.is_error", res.IsError))
	span.End()

	elapsed := time.Since(started)
	for _, o := range e.opts.observers {
		o.OnFinish(res, elapsed)
	}
	return res
}

// accept resolves, authorises and validates req.
func (e *Executor) accept(req Request, session toolctx.Chain) (dispatch, *Result) {
	entry, ok := e.registry.Lookup(req.Name)
	if !ok {
		r := failure(req, "unknown tool: "+req.Name)
		return dispatch{}, &r
	}
	if !e.groups.IsCallable(req.Name) {
		r := failure(req, "unauthorized: tool group inactive for "+req.Name)
		return dispatch{}, &r
	}
	payload := mergePresets(entry.Registration.Presets, req.Payload)
	if err := e.opts.validator.Validate(entry.Schema, payload); err != nil {
		r := failure(req, err.Error())
		return dispatch{}, &r
	}
	return dispatch{
		entry: entry,
		call: Call{
			ID:      req.ID,
			Name:    req.Name,
			Payload: payload,
			Context: toolctx.Merge(req.Context, session, entry.Registration.Defaults),
		},
	}, nil
}

func (e *Executor) invoke(ctx context.Context, d dispatch) (segs []Segment, err error) {
	if e.opts.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.callTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			e.opts.logger.Error().
				Str("component", "executor").
				Str("tool", d.call.Name).
				Str("call_id", d.call.ID).
				Interface("panic", r).
				Msg("tool panicked")
			segs = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.entry.Tool.Invoke(ctx, d.call)
}

// mergePresets copies payload and fills in presets the caller did not supply.
func mergePresets(presets, payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+len(presets))
	for k, v := range payload {
		out[k] = cloneValue(v)
	}
	for k, v := range presets {
		if _, ok := out[k]; !ok {
			out[k] = cloneValue(v)
		}
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		dup := make(map[string]any, len(val))
		for k, inner := range val {
			dup[k] = cloneValue(inner)
		}
		return dup
	case []any:
		dup := make([]any, len(val))
		for i, inner := range val {
			dup[i] = cloneValue(inner)
		}
		return dup
	default:
		return v
	}
}
