package aftersales

import (
	"context"
	"strings"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type CaseDetail struct {
	Case        *Case          `json:"case"`
	Logs        []CaseLogEntry `json:"logs"`
	Attachments []*Attachment  `json:"attachments"`
}

// scopeFilter restricts suppliers to their own cases.
func scopeFilter(actor Actor, f CaseFilter) CaseFilter {
	if actor.Role == RoleSupplier {
		id := actor.ID
		f.SupplierId = &id
	}
	f.Search = strings.TrimSpace(f.Search)
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (s *Service) ListCases(ctx context.Context, actor Actor, filter CaseFilter) (_ []*Case, _ int64, err error) {
	ctx, span := tracer.Start(ctx, "aftersales.ListCases")
	defer func() { endSpan(span, err) }()

	cases, total, err := s.cases.ListByFilters(ctx, scopeFilter(actor, filter))
	if err != nil {
		return nil, 0, infraError("list cases", err)
	}
	return cases, total, nil
}

func (s *Service) GetCase(ctx context.Context, actor Actor, id string) (*Case, error) {
	c, err := s.getCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(c, actor) {
		return nil, &NotFoundError{Resource: "case", ID: id}
	}
	return c, nil
}

func (s *Service) GetCaseDetail(ctx context.Context, actor Actor, id string) (_ *CaseDetail, err error) {
	ctx, span := tracer.Start(ctx, "aftersales.GetCaseDetail")
	defer func() { endSpan(span, err) }()

	c, err := s.GetCase(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	logs, err := s.cases.ListLogs(ctx, c.ID)
	if err != nil {
		return nil, infraError("list case logs", err)
	}
	detail := &CaseDetail{Case: c, Logs: logs, Attachments: []*Attachment{}}
	if s.attachments != nil {
		atts, err := s.attachments.ListByCase(ctx, c.ID)
		if err != nil {
			return nil, infraError("list attachments", err)
		}
		if atts != nil {
			detail.Attachments = atts
		}
	}
	return detail, nil
}

func (s *Service) ListCaseLogs(ctx context.Context, actor Actor, id string) ([]CaseLogEntry, error) {
	c, err := s.GetCase(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	logs, err := s.cases.ListLogs(ctx, c.ID)
	if err != nil {
		return nil, infraError("list case logs", err)
	}
	return logs, nil
}

// StatusCounts returns one entry per status, zero counts included.
func (s *Service) StatusCounts(ctx context.Context, actor Actor, filter CaseFilter) (_ []StatusCount, err error) {
	ctx, span := tracer.Start(ctx, "aftersales.StatusCounts")
	defer func() { endSpan(span, err) }()

	f := scopeFilter(actor, filter)
	f.Statuses = nil
	counts, err := s.cases.CountByStatus(ctx, f)
	if err != nil {
		return nil, infraError("count cases", err)
	}
	byStatus := map[Status]int64{}
	for _, c := range counts {
		byStatus[c.Status] += c.Count
	}
	out := make([]StatusCount, 0, len(AllStatuses))
	for _, st := range AllStatuses {
		out = append(out, StatusCount{Status: st, Count: byStatus[st]})
	}
	return out, nil
}

func (s *Service) ResolveByTrackingNumber(ctx context.Context, trackingNo string) (ProvenanceResult, error) {
	ctx, span := tracer.Start(ctx, "aftersales.ResolveByTrackingNumber")
	res, err := s.resolver.ResolveByTrackingNumber(ctx, trackingNo)
	endSpan(span, err)
	return res, err
}

func (s *Service) ResolveByOrder(ctx context.Context, orderId string) (ProvenanceResult, error) {
	ctx, span := tracer.Start(ctx, "aftersales.ResolveByOrder")
	res, err := s.resolver.ResolveByOrder(ctx, orderId)
	endSpan(span, err)
	return res, err
}

// PreviewAssignment runs provenance and assignment without opening a case.
func (s *Service) PreviewAssignment(ctx context.Context, trackingNo, orderId string) (ProvenanceResult, AssignmentDecision) {
	prov := s.resolveProvenance(ctx, openCaseFields{
		trackingNumber: strings.TrimSpace(trackingNo),
		orderId:        strings.TrimSpace(orderId),
	})
	return prov, s.assigner.ResolveAssignment(ctx, prov)
}
