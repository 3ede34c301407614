// Package reset zeroes lane pointers once per service day. Every process
// keeps its own cache of the last reset day; the settings row is the shared
// authority between processes.
package reset

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"qms/lane-service/internal/models"

	"github.com/robfig/cron/v3"
)

// DefaultSpec runs five seconds after UTC midnight.
const DefaultSpec = "5 0 0 * * *"

type Store interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	UpsertSetting(ctx context.Context, key, value string) error
	ResetCurrentNumbers(ctx context.Context) (int64, error)
}

type Scheduler struct {
	store   Store
	now     func() time.Time
	onReset func(ctx context.Context)

	mu        sync.Mutex
	lastReset string

	cron *cron.Cron
}

type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.now = clock }
}

// WithOnReset registers a hook run after this process zeroes the lanes.
func WithOnReset(fn func(ctx context.Context)) Option {
	return func(s *Scheduler) { s.onReset = fn }
}

func NewScheduler(st Store, opts ...Option) *Scheduler {
	s := &Scheduler{store: st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaybeReset zeroes every lane's current number unless today's reset has
// already happened, here or in another process. It reports whether this call
// performed the reset.
func (s *Scheduler) MaybeReset(ctx context.Context) (bool, error) {
	today := models.ServiceDayFor(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastReset == today {
		return false, nil
	}

	marker, found, err := s.store.GetSetting(ctx, models.SettingLastLaneReset)
	if err != nil {
		return false, fmt.Errorf("read reset marker: %w", err)
	}
	if found && marker == today {
		s.lastReset = today
		return false, nil
	}

	if err := s.reset(ctx, today); err != nil {
		return false, err
	}
	return true, nil
}

// ResetNow zeroes the lanes regardless of the marker.
func (s *Scheduler) ResetNow(ctx context.Context) error {
	today := models.ServiceDayFor(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reset(ctx, today)
}

func (s *Scheduler) reset(ctx context.Context, today string) error {
	count, err := s.store.ResetCurrentNumbers(ctx)
	if err != nil {
		return fmt.Errorf("reset lanes: %w", err)
	}
	if err := s.store.UpsertSetting(ctx, models.SettingLastLaneReset, today); err != nil {
		return fmt.Errorf("write reset marker: %w", err)
	}
	s.lastReset = today
	log.Printf("daily lane reset service_day=%s lanes=%d", today, count)

	if s.onReset != nil {
		s.onReset(ctx)
	}
	return nil
}

// Start schedules MaybeReset on a UTC cron spec with a seconds field. An empty
// spec uses DefaultSpec.
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		spec = DefaultSpec
	}
	c := cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.MaybeReset(ctx); err != nil {
			log.Printf("scheduled lane reset failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("reset schedule %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	log.Printf("daily lane reset scheduled spec=%q", spec)
	return nil
}

// Stop halts the cron job and waits for a running reset to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
