// Package cron flips tool groups on and off on cron schedules.
package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Activator is the part of a toolkit the scheduler drives.
type Activator interface {
	SetGroupsActive(names []string, active bool) error
}

// Window pairs a group with the cron specs that activate and deactivate it.
// Specs use six fields (seconds first) or descriptors such as "@every 1h".
type Window struct {
	Group      string
	Activate   string
	Deactivate string
}

var parser = rcron.NewParser(
	rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

func (w Window) validate() error {
	if w.Group == "" {
		return errors.New("window group is empty")
	}
	if w.Activate == "" && w.Deactivate == "" {
		return fmt.Errorf("window %s: no schedule", w.Group)
	}
	for _, spec := range []string{w.Activate, w.Deactivate} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("window %s: %q: %w", w.Group, spec, err)
		}
	}
	return nil
}

// Scheduler runs group activation windows.
type Scheduler struct {
	target Activator
	log    zerolog.Logger

	mu      sync.Mutex
	cron    *rcron.Cron
	windows map[string]Window
	entries map[string][]rcron.EntryID // group -> cron entries
	stopCh  chan struct{}

	// OnFire, when set, observes every transition after it was applied.
	OnFire func(group string, active bool, err error)
}

func NewScheduler(target Activator, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		target:  target,
		log:     logger.With().Str("component", "cron").Logger(),
		cron:    rcron.New(rcron.WithParser(parser)),
		windows: make(map[string]Window),
		entries: make(map[string][]rcron.EntryID),
	}
}

// Set installs w, replacing any window of the same group.
func (s *Scheduler) Set(w Window) error {
	if err := w.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(w.Group)

	var ids []rcron.EntryID
	for _, t := range []struct {
		spec   string
		active bool
	}{{w.Activate, true}, {w.Deactivate, false}} {
		if t.spec == "" {
			continue
		}
		group, active := w.Group, t.active
		id, err := s.cron.AddFunc(t.spec, func() { s.fire(group, active) })
		if err != nil {
			for _, added := range ids {
				s.cron.Remove(added)
			}
			return fmt.Errorf("window %s: %w", w.Group, err)
		}
		ids = append(ids, id)
	}
	s.windows[w.Group] = w
	s.entries[w.Group] = ids
	return nil
}

// Remove drops the window of group.
func (s *Scheduler) Remove(group string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(group)
}

func (s *Scheduler) removeLocked(group string) bool {
	ids, ok := s.entries[group]
	if !ok {
		return false
	}
	for _, id := range ids {
		s.cron.Remove(id)
	}
	delete(s.entries, group)
	delete(s.windows, group)
	return true
}

// Reconcile makes the installed windows equal to windows. Every window is
// validated before anything changes.
func (s *Scheduler) Reconcile(windows []Window) error {
	for _, w := range windows {
		if err := w.validate(); err != nil {
			return err
		}
	}
	keep := make(map[string]struct{}, len(windows))
	for _, w := range windows {
		keep[w.Group] = struct{}{}
	}
	for _, current := range s.Windows() {
		if _, ok := keep[current.Group]; !ok {
			s.Remove(current.Group)
		}
	}
	for _, w := range windows {
		if existing, ok := s.window(w.Group); ok && existing == w {
			continue
		}
		if err := s.Set(w); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) window(group string) (Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[group]
	return w, ok
}

// Windows lists installed windows sorted by group.
func (s *Scheduler) Windows() []Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Window, 0, len(s.windows))
	for _, w := range s.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

// Next reports when group next changes state. Zero means no scheduled change.
func (s *Scheduler) Next(group string) time.Time {
	s.mu.Lock()
	ids := append([]rcron.EntryID(nil), s.entries[group]...)
	s.mu.Unlock()
	var next time.Time
	for _, id := range ids {
		e := s.cron.Entry(id)
		if e.Next.IsZero() {
			continue
		}
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

func (s *Scheduler) fire(group string, active bool) {
	err := s.target.SetGroupsActive([]string{group}, active)
	if err != nil {
		s.log.Error().Err(err).Str("group", group).Bool("active", active).Msg("scheduled group change failed")
	} else {
		s.log.Info().Str("group", group).Bool("active", active).Msg("scheduled group change applied")
	}
	if s.OnFire != nil {
		s.OnFire(group, active, err)
	}
}

// Start runs the schedule until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	stopCh := make(chan struct{})
	s.mu.Lock()
	s.stopCh = stopCh
	n := len(s.windows)
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info().Int("windows", n).Msg("scheduler started")

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
}

// Stop halts the schedule and waits briefly for running transitions.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("stop timeout waiting for running transitions")
	}
	s.log.Info().Msg("scheduler stopped")
}
