package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/config"
	"github.com/bsm/redislock"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	slaSweepLockKey     = "lock:sla-sweep"
	slaBreachMarkPrefix = "sla:breached:"
)

// CaseSweeper is the part of the after-sales service the sweeper drives.
type CaseSweeper interface {
	OverdueCases(ctx context.Context, at time.Time, limit int) ([]*aftersales.Case, error)
	NotifySLABreach(ctx context.Context, c *aftersales.Case)
}

// MarkFunc records key once. It reports true only for the first caller.
type MarkFunc func(ctx context.Context, key string, exp time.Duration) (bool, error)

// SLASweeper notifies owners of open cases past their deadline, once per case.
type SLASweeper struct {
	Logger    *logrus.Logger
	BatchSize int
	LockTTL   time.Duration
	MarkTTL   time.Duration
	Now       func() time.Time

	svc    CaseSweeper
	locker *redislock.Client
	mark   MarkFunc
}

func NewSLASweeper(svc CaseSweeper, locker *redislock.Client, logger *logrus.Logger) *SLASweeper {
	if logger == nil {
		logger = config.GetLogger()
	}
	s := &SLASweeper{
		Logger:    logger,
		BatchSize: 200,
		LockTTL:   5 * time.Minute,
		MarkTTL:   30 * 24 * time.Hour,
		Now:       func() time.Time { return time.Now().UTC() },
		svc:       svc,
		locker:    locker,
	}
	if config.GetRedisDB() != nil {
		s.mark = redisMark
	} else {
		s.mark = newMemoryMarks().mark
	}
	return s
}

// redisMark sets key with SETNX so every replica agrees on the first breach.
func redisMark(ctx context.Context, key string, exp time.Duration) (bool, error) {
	return config.SetRedisValueNX(ctx, key, "1", exp)
}

func (s *SLASweeper) WithMarker(fn MarkFunc) *SLASweeper {
	s.mark = fn
	return s
}

// SweepOnce returns the number of breach notifications sent. When another
// instance holds the sweep lock it does nothing.
func (s *SLASweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, slaSweepLockKey, s.LockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			s.Logger.WithField("field", "SLASweeper").Info("sla sweep already running elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.Logger.WithField("field", "SLASweeper").Warn("failed to release sla sweep lock: " + err.Error())
			}
		}()
	}

	cases, err := s.svc.OverdueCases(ctx, s.Now(), s.BatchSize)
	if err != nil {
		return 0, err
	}

	notified := 0
	for _, c := range cases {
		first, err := s.mark(ctx, slaBreachMarkPrefix+c.ID, s.MarkTTL)
		if err != nil {
			config.LogError(s.Logger, "workflow/slaSweeper.go", "SweepOnce", "mark breach", c.ID, err)
			continue
		}
		if !first {
			continue
		}
		s.svc.NotifySLABreach(ctx, c)
		notified++
	}
	if notified > 0 {
		s.Logger.WithFields(logrus.Fields{
			"field":    "SLASweeper",
			"overdue":  len(cases),
			"notified": notified,
		}).Info("sla breaches notified")
	}
	return notified, nil
}

// Start schedules SweepOnce on the cron spec. Stop the returned scheduler on shutdown.
func (s *SLASweeper) Start(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.LockTTL)
		defer cancel()
		if _, err := s.SweepOnce(ctx); err != nil {
			config.LogError(s.Logger, "workflow/slaSweeper.go", "Start", "sla sweep", spec, err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

type memoryMarks struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newMemoryMarks() *memoryMarks {
	return &memoryMarks{seen: map[string]time.Time{}}
}

func (m *memoryMarks) mark(_ context.Context, key string, exp time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if until, ok := m.seen[key]; ok && now.Before(until) {
		return false, nil
	}
	m.seen[key] = now.Add(exp)
	return true, nil
}
