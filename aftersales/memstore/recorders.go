package memstore

import (
	"context"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
)

// Notifier records notifications. Err, Delay and Panic inject failures.
type Notifier struct {
	mu    sync.Mutex
	sent  []aftersales.Notification
	Err   error
	Delay time.Duration
	Panic bool
}

func (n *Notifier) Notify(ctx context.Context, note aftersales.Notification) error {
	n.mu.Lock()
	delay, fail, panics := n.Delay, n.Err, n.Panic
	n.mu.Unlock()

	if panics {
		panic("notifier exploded")
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail != nil {
		return fail
	}
	n.mu.Lock()
	n.sent = append(n.sent, note)
	n.mu.Unlock()
	return nil
}

func (n *Notifier) Sent() []aftersales.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]aftersales.Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

// Audit records audit entries.
type Audit struct {
	mu      sync.Mutex
	records []aftersales.AuditRecord
	Err     error
}

func (a *Audit) Record(ctx context.Context, r aftersales.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Err != nil {
		return a.Err
	}
	a.records = append(a.records, r)
	return nil
}

func (a *Audit) Records() []aftersales.AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]aftersales.AuditRecord, len(a.records))
	copy(out, a.records)
	return out
}

// Actions lists recorded audit actions in completion order.
func (a *Audit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r.Action)
	}
	return out
}
