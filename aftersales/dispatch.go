package aftersales

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultNotifyTimeout bounds a single notification, retries included.
const DefaultNotifyTimeout = 30 * time.Second

// Dispatcher runs notifications and audit records off the caller's path.
// Each side effect runs in its own goroutine; a failure is logged and dropped.
type Dispatcher struct {
	notifier      Notifier
	audit         AuditLogger
	logger        *logrus.Logger
	notifyTimeout time.Duration
	auditTimeout  time.Duration
	wg            sync.WaitGroup
}

func NewDispatcher(notifier Notifier, audit AuditLogger, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		notifier:      notifier,
		audit:         audit,
		logger:        logger,
		notifyTimeout: DefaultNotifyTimeout,
		auditTimeout:  10 * time.Second,
	}
}

func (d *Dispatcher) SetNotifyTimeout(t time.Duration) {
	if t > 0 {
		d.notifyTimeout = t
	}
}

func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	if d == nil || d.notifier == nil || n.RecipientId == "" {
		return
	}
	d.run(ctx, d.notifyTimeout, logrus.Fields{
		"side_effect": "notify",
		"event":       n.EventType,
		"case_id":     n.CaseId,
		"recipient":   n.RecipientId,
	}, func(ctx context.Context) error {
		return d.notifier.Notify(ctx, n)
	})
}

func (d *Dispatcher) Audit(ctx context.Context, r AuditRecord) {
	if d == nil || d.audit == nil {
		return
	}
	d.run(ctx, d.auditTimeout, logrus.Fields{
		"side_effect": "audit",
		"event":       r.Action,
		"resource_id": r.ResourceId,
		"actor_id":    r.ActorId,
	}, func(ctx context.Context) error {
		return d.audit.Record(ctx, r)
	})
}

// Wait blocks until every dispatched side effect has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) run(parent context.Context, timeout time.Duration, fields logrus.Fields, fn func(context.Context) error) {
	d.wg.Add(1)
	// detached from the request so a finished HTTP call does not cancel delivery
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				d.logger.WithFields(fields).Error(fmt.Sprintf("best-effort side effect panicked: %v", r))
			}
		}()
		if err := fn(ctx); err != nil {
			d.logger.WithFields(fields).Error("best-effort side effect failed: " + err.Error())
		}
	}()
}
