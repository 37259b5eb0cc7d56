package aftersales

import (
	"context"
	"time"
)

// DefaultSLAWindow applies to every priority unless a priority table is configured.
const DefaultSLAWindow = 7 * 24 * time.Hour

// SLAPolicy computes the deadline once, when the case is opened.
type SLAPolicy interface {
	Deadline(priority Priority, openedAt time.Time) time.Time
}

type UniformSLA struct {
	Window time.Duration
}

func (u UniformSLA) Deadline(_ Priority, openedAt time.Time) time.Time {
	w := u.Window
	if w <= 0 {
		w = DefaultSLAWindow
	}
	return openedAt.Add(w)
}

// PrioritySLA maps each priority to its own window. Missing priorities use Default.
type PrioritySLA struct {
	Default    time.Duration
	ByPriority map[Priority]time.Duration
}

func (p PrioritySLA) Deadline(priority Priority, openedAt time.Time) time.Time {
	if w, ok := p.ByPriority[priority]; ok && w > 0 {
		return openedAt.Add(w)
	}
	return UniformSLA{Window: p.Default}.Deadline(priority, openedAt)
}

var openStatuses = []Status{StatusOpened, StatusExecuting, StatusInspecting}

// OverdueCases lists open cases whose deadline passed before at, oldest deadline first.
func (s *Service) OverdueCases(ctx context.Context, at time.Time, limit int) ([]*Case, error) {
	if limit <= 0 {
		limit = maxListLimit
	}
	before := at
	cases, _, err := s.cases.ListByFilters(ctx, CaseFilter{
		Statuses:      openStatuses,
		OverdueBefore: &before,
		Limit:         limit,
	})
	if err != nil {
		return nil, infraError("list overdue cases", err)
	}
	return cases, nil
}

// NotifySLABreach tells whoever holds the case that its deadline passed.
// The case itself is not modified.
func (s *Service) NotifySLABreach(ctx context.Context, c *Case) {
	recipient := ownerOf(c)
	if recipient == "" && c.CreatedBy != SystemActor {
		recipient = c.CreatedBy
	}
	s.dispatcher.Notify(ctx, caseNotification(c, recipient, "case.sla_breached",
		"SLA breached for "+c.CaseNumber,
		"The case was due "+c.SlaDeadline.Format(time.RFC3339)+" and is still "+string(c.Status)+"."))
	s.audit(ctx, SystemCaller(), c, "sla_breached", map[string]any{
		"slaDeadline": c.SlaDeadline,
	})
}
