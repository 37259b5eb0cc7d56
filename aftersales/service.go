package aftersales

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aftersales")

const maxCaseNumberAttempts = 3

// Deps are the collaborators a Service runs against.
type Deps struct {
	Cases       CaseRepository
	Attachments AttachmentRepository
	Lookup      ProvenanceLookup
	Users       UserDirectory
	Numbers     CaseNumberGenerator
	Blobs       BlobStore
	Notifier    Notifier
	Audit       AuditLogger
	Thumbnailer Thumbnailer
	Logger      *logrus.Logger
}

type Option func(*Service)

func WithSLAPolicy(p SLAPolicy) Option {
	return func(s *Service) {
		if p != nil {
			s.sla = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithNotifyTimeout(t time.Duration) Option {
	return func(s *Service) {
		s.dispatcher.SetNotifyTimeout(t)
	}
}

func WithPhoneRegion(region string) Option {
	return func(s *Service) {
		if region != "" {
			s.phoneRegion = region
		}
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// Service exposes every after-sales operation. It keeps no case state between calls.
type Service struct {
	cases       CaseRepository
	attachments AttachmentRepository
	lookup      ProvenanceLookup
	users       UserDirectory
	numbers     CaseNumberGenerator
	blobs       BlobStore
	thumbnailer Thumbnailer

	resolver   *Resolver
	assigner   *Assigner
	dispatcher *Dispatcher
	sla        SLAPolicy

	validate    *validator.Validate
	logger      *logrus.Logger
	now         func() time.Time
	newID       func() string
	phoneRegion string
}

func NewService(deps Deps, opts ...Option) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Service{
		cases:       deps.Cases,
		attachments: deps.Attachments,
		lookup:      deps.Lookup,
		users:       deps.Users,
		numbers:     deps.Numbers,
		blobs:       deps.Blobs,
		thumbnailer: deps.Thumbnailer,
		resolver:    NewResolver(deps.Lookup),
		assigner:    NewAssigner(deps.Lookup, deps.Users, logger),
		dispatcher:  NewDispatcher(deps.Notifier, deps.Audit, logger),
		sla:         UniformSLA{Window: DefaultSLAWindow},
		validate:    validator.New(),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		phoneRegion: "MM",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolver exposes the provenance resolver for diagnostics.
func (s *Service) Resolver() *Resolver { return s.resolver }

func (s *Service) Dispatcher() *Dispatcher { return s.dispatcher }

// WaitForSideEffects blocks until queued notifications and audit records finish.
func (s *Service) WaitForSideEffects() { s.dispatcher.Wait() }

func (s *Service) OpenCase(ctx context.Context, actor Actor, in OpenCaseInput) (_ *Case, err error) {
	ctx, span := tracer.Start(ctx, "aftersales.OpenCase")
	defer func() { endSpan(span, err) }()

	if !actor.Role.IsStaff() {
		return nil, &GuardError{Event: string(EventOpen), RequiredRoles: []Role{RoleAdmin, RoleBuyer}}
	}
	fields, err := s.parseOpenCase(in)
	if err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, fields); err != nil {
		return nil, err
	}

	prov := s.resolveProvenance(ctx, fields)
	decision := s.assigner.ResolveAssignment(ctx, prov)
	if decision.Warning != "" {
		s.logger.WithFields(logrus.Fields{
			"module":  "aftersales",
			"channel": prov.Channel,
			"route":   decision.Route,
		}).Warn(decision.Warning)
	}
	span.SetAttributes(
		attribute.String("aftersales.channel", string(prov.Channel)),
		attribute.String("aftersales.route", string(decision.Route)),
	)

	now := s.now()
	c := &Case{
		ID:             s.newID(),
		Channel:        prov.Channel,
		IssueType:      fields.issueType,
		Priority:       fields.priority,
		Description:    fields.description,
		ClaimAmount:    fields.claimAmount,
		Status:         StatusOpened,
		SlaDeadline:    s.sla.Deadline(fields.priority, now),
		Version:        1,
		CreatedBy:      actor.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
		TrackingNumber: optional(fields.trackingNumber),
		OrderId:        firstNonEmpty(fields.orderId, prov.OrderId),
		ShipmentId:     firstNonEmpty(fields.shipmentId, prov.ShipmentId),
		// caller input always wins over inference
		StoreId:      firstNonEmpty(fields.storeId, prov.StoreId),
		CustomerId:   optional(fields.customerId),
		Disposition:  optional(fields.disposition),
		ContactPhone: optional(fields.contactPhone),
	}
	if decision.Route == RouteAutoBuyer && nonEmpty(decision.ActorId) {
		c.HandlerId = cloneString(decision.ActorId)
	}

	created, err := s.createWithNumber(ctx, c, actor)
	if err != nil {
		return nil, err
	}

	if decision.Route == RouteAutoSupplier {
		dispatched, err := s.autoDispatch(ctx, created, *decision.ActorId)
		if err != nil {
			// the case exists; it stays OPENED for manual assignment
			s.logger.WithFields(logrus.Fields{
				"module":      "aftersales",
				"case_id":     created.ID,
				"case_number": created.CaseNumber,
			}).Error("auto-dispatch failed: " + err.Error())
		} else {
			created = dispatched
		}
	}

	s.afterOpen(ctx, actor, created, decision)
	return created, nil
}

func (s *Service) checkReferences(ctx context.Context, f openCaseFields) error {
	if f.storeId != "" {
		ok, err := s.lookup.StoreExists(ctx, f.storeId)
		if err != nil {
			return infraError("validate store", err)
		}
		if !ok {
			return &NotFoundError{Resource: "store", ID: f.storeId}
		}
	}
	if f.orderId != "" {
		o, err := s.lookup.FindOrderById(ctx, f.orderId)
		if err != nil {
			return infraError("validate order", err)
		}
		if o == nil {
			return &NotFoundError{Resource: "order", ID: f.orderId}
		}
	}
	if f.shipmentId != "" {
		sh, err := s.lookup.FindShipmentById(ctx, f.shipmentId)
		if err != nil {
			return infraError("validate shipment", err)
		}
		if sh == nil {
			return &NotFoundError{Resource: "shipment", ID: f.shipmentId}
		}
	}
	return nil
}

// resolveProvenance walks tracking number, then shipment, then order.
// Lookup failures degrade to UNKNOWN so the case is still created.
func (s *Service) resolveProvenance(ctx context.Context, f openCaseFields) ProvenanceResult {
	type attempt struct {
		name string
		ok   bool
		run  func() (ProvenanceResult, error)
	}
	attempts := []attempt{
		{"tracking", f.trackingNumber != "", func() (ProvenanceResult, error) {
			return s.resolver.ResolveByTrackingNumber(ctx, f.trackingNumber)
		}},
		{"shipment", f.shipmentId != "", func() (ProvenanceResult, error) {
			return s.resolver.ResolveByShipmentId(ctx, f.shipmentId)
		}},
		{"order", f.orderId != "", func() (ProvenanceResult, error) {
			return s.resolver.ResolveByOrder(ctx, f.orderId)
		}},
	}
	for _, a := range attempts {
		if !a.ok {
			continue
		}
		res, err := a.run()
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"module": "aftersales",
				"by":     a.name,
			}).Error("provenance resolution failed: " + err.Error())
			continue
		}
		if res.Channel != ChannelUnknown {
			return res
		}
	}
	return UnknownProvenance()
}

func (s *Service) createWithNumber(ctx context.Context, c *Case, actor Actor) (*Case, error) {
	var lastErr error
	for i := 0; i < maxCaseNumberAttempts; i++ {
		number, err := s.numbers.Next(ctx, c.CreatedAt)
		if err != nil {
			return nil, infraError("generate case number", err)
		}
		c.CaseNumber = number
		entry := CaseLogEntry{
			ID:          s.newID(),
			CaseId:      c.ID,
			Action:      ActionOpened,
			Description: "case " + number + " opened",
			ActorId:     actor.ID,
			CreatedAt:   c.CreatedAt,
		}
		created, err := s.cases.Create(ctx, c, entry)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrDuplicateCaseNumber) {
			return nil, infraError("create case", err)
		}
		lastErr = err
	}
	return nil, infraError("create case", lastErr)
}

func (s *Service) autoDispatch(ctx context.Context, c *Case, supplierId string) (*Case, error) {
	updated, _, err := s.apply(ctx, SystemCaller(), c, EventAutoDispatch, func(c *Case, now time.Time) (transitionPlan, error) {
		return transitionPlan{
			patch:       CasePatch{SupplierId: stringPtr(supplierId)},
			description: "dispatched to supplier " + supplierId,
		}, nil
	})
	return updated, err
}

func (s *Service) afterOpen(ctx context.Context, actor Actor, c *Case, d AssignmentDecision) {
	switch {
	case c.Status == StatusExecuting && nonEmpty(c.SupplierId):
		s.dispatcher.Notify(ctx, caseNotification(c, *c.SupplierId, "case.dispatched",
			"New after-sales case "+c.CaseNumber,
			"A "+string(c.IssueType)+" case has been dispatched to you."))
	case nonEmpty(c.HandlerId):
		s.dispatcher.Notify(ctx, caseNotification(c, *c.HandlerId, "case.assigned",
			"After-sales case "+c.CaseNumber+" assigned",
			"You are the handler for a "+string(c.IssueType)+" case."))
	}
	s.dispatcher.Audit(ctx, AuditRecord{
		Action:       auditActionPrefix + ActionOpened,
		ResourceType: auditResourceCase,
		ResourceId:   c.ID,
		ActorId:      actor.ID,
		Details: map[string]any{
			"caseNumber": c.CaseNumber,
			"channel":    c.Channel,
			"route":      d.Route,
			"status":     c.Status,
		},
	})
}

// transitionPlan is computed before anything is written.
type transitionPlan struct {
	patch       CasePatch
	description string
	// action overrides the rule's log action (manual override)
	action string
	// to overrides the rule's target state (manual override)
	to Status
}

type planFunc func(c *Case, now time.Time) (transitionPlan, error)

// transition loads the case, checks the guard and applies the plan in one conditional update.
func (s *Service) transition(ctx context.Context, actor Actor, caseId string, event Event, plan planFunc) (*Case, *Case, error) {
	current, err := s.getCase(ctx, caseId)
	if err != nil {
		return nil, nil, err
	}
	return s.apply(ctx, actor, current, event, plan)
}

func (s *Service) apply(ctx context.Context, actor Actor, current *Case, event Event, plan planFunc) (*Case, *Case, error) {
	rule, err := checkTransition(event, current, actor)
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	p, err := plan(current, now)
	if err != nil {
		return nil, nil, err
	}

	to := rule.to
	if p.to != "" {
		to = p.to
	}
	if to != "" && to != current.Status {
		target := to
		p.patch.Status = &target
	}
	action := rule.action
	if p.action != "" {
		action = p.action
	}

	entry := CaseLogEntry{
		ID:          s.newID(),
		CaseId:      current.ID,
		Action:      action,
		Description: p.description,
		ActorId:     actor.ID,
		CreatedAt:   now,
	}
	updated, err := s.cases.Update(ctx, current.ID, p.patch, Expectation{Status: current.Status, Version: current.Version}, entry)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, nil, &ConflictError{CaseId: current.ID, Event: string(event), Expected: current.Status}
		}
		return nil, nil, infraError(string(event), err)
	}
	return updated, current, nil
}

func (s *Service) getCase(ctx context.Context, id string) (*Case, error) {
	c, err := s.cases.GetById(ctx, id)
	if err != nil {
		return nil, infraError("get case", err)
	}
	if c == nil {
		return nil, &NotFoundError{Resource: "case", ID: id}
	}
	return c, nil
}

func caseNotification(c *Case, recipient, event, title, body string) Notification {
	return Notification{
		RecipientId: recipient,
		EventType:   event,
		Title:       title,
		Body:        body,
		LinkPath:    notificationLinkPathCases + c.ID,
		CaseId:      c.ID,
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(s string, fallback *string) *string {
	if s != "" {
		return &s
	}
	if nonEmpty(fallback) {
		return cloneString(fallback)
	}
	return nil
}
