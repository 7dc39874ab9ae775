package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse accepts 5 or 6 field cron expressions and descriptors such as
// "@every 1m" or "@hourly".
func Parse(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return sched, nil
}

type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

// Every is a fixed cadence without cron's one second granularity.
func Every(d time.Duration) cron.Schedule { return every(d) }

type Status struct {
	Running  bool       `json:"running"`
	Spec     string     `json:"spec"`
	LastTick *time.Time `json:"lastTick,omitempty"`
	NextTick *time.Time `json:"nextTick,omitempty"`
}

type Scheduler struct {
	schedule cron.Schedule
	spec     string
	tickFn   func(context.Context)
	log      zerolog.Logger

	running  atomic.Bool
	lastTick atomic.Int64
	nextTick atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a scheduler that calls tickFn once on Start and then at every
// activation of schedule. spec is only used for reporting.
func New(schedule cron.Schedule, spec string, tickFn func(context.Context), log zerolog.Logger) (*Scheduler, error) {
	if schedule == nil {
		return nil, errors.New("schedule must not be nil")
	}
	if e, ok := schedule.(every); ok && e <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		schedule: schedule,
		spec:     spec,
		tickFn:   tickFn,
		log:      log,
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		s.log.Info().Str("spec", s.spec).Msg("scheduler started")

		s.safeTick(ctx)

		for {
			now := time.Now()
			next := s.schedule.Next(now)
			if next.IsZero() {
				s.log.Warn().Msg("schedule has no further activations")
				<-ctx.Done()
				return
			}
			s.nextTick.Store(next.UnixNano())

			timer := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				s.log.Info().Msg("scheduler stopping")
				return
			case <-timer.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)
	s.nextTick.Store(0)

	s.log.Info().Msg("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	st := Status{Running: s.running.Load(), Spec: s.spec}
	if v := s.lastTick.Load(); v != 0 {
		t := time.Unix(0, v).UTC()
		st.LastTick = &t
	}
	if v := s.nextTick.Load(); v != 0 && st.Running {
		t := time.Unix(0, v).UTC()
		st.NextTick = &t
	}
	return st
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("scheduler tick panic recovered")
		}
	}()

	start := time.Now()
	s.lastTick.Store(start.UnixNano())
	s.tickFn(ctx)
	s.log.Debug().Int64("duration_ms", time.Since(start).Milliseconds()).Msg("scheduler tick completed")
}
