// Package scheduler runs a periodic task, such as the booking timeout
// sweep, on a fixed interval.  A run never overlaps the previous one in
// the same process, and an optional Locker keeps replicas from running
// the same tick concurrently.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is the work run on every tick.
type Task func(ctx context.Context) error

// Locker grants a named lease across processes.  Acquire reports false
// when another holder owns the lease.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Scheduler runs Task every Interval.
type Scheduler struct {
	Name     string
	Interval time.Duration
	Task     Task
	Lock     Locker
	// LockTTL bounds how long a crashed replica can hold the lease.
	// Defaults to Interval.
	LockTTL time.Duration
	Log     logrus.FieldLogger

	running sync.Mutex
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// Start launches the ticker loop.  It kicks immediately and returns an
// error when the scheduler is already started.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.Interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}
	if s.Task == nil {
		return errors.New("scheduler: task is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler: already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	// kick immediately
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs the task unless a run is already in progress here or the
// lease is held elsewhere.  It reports whether the task ran.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	log := s.logger()
	if !s.running.TryLock() {
		log.Debug("scheduler: previous run still in progress; skipping tick")
		return false
	}
	defer s.running.Unlock()

	if s.Lock != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = s.Interval
		}
		release, ok, err := s.Lock.Acquire(ctx, s.Name, ttl)
		if err != nil {
			log.WithError(err).Warn("scheduler: lock unavailable; skipping tick")
			return false
		}
		if !ok {
			log.Debug("scheduler: lock held by another replica; skipping tick")
			return false
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.WithError(err).Warn("scheduler: release lock failed")
			}
		}()
	}

	started := time.Now()
	if err := s.Task(ctx); err != nil {
		log.WithError(err).Error("scheduler: task failed")
	} else {
		log.WithField("elapsed", time.Since(started).String()).Debug("scheduler: task finished")
	}
	return true
}

func (s *Scheduler) logger() logrus.FieldLogger {
	if s.Log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		return l.WithField("task", s.Name)
	}
	return s.Log.WithField("task", s.Name)
}
