package aftersales

import (
	"context"
	"strings"
	"time"
)

const maxResolutionLength = 8000

func (s *Service) AssignToSupplier(ctx context.Context, actor Actor, caseId, supplierId string) (_ *Case, err error) {
	ctx, span := tracer.Start(ctx, "aftersales.AssignToSupplier")
	defer func() { endSpan(span, err) }()

	supplierId = strings.TrimSpace(supplierId)
	if supplierId == "" {
		return nil, NewValidationError("supplierId", "supplier id is required")
	}
	supplier, err := s.users.FindById(ctx, supplierId)
	if err != nil {
		return nil, infraError("find supplier", err)
	}
	if supplier == nil {
		return nil, &NotFoundError{Resource: "supplier", ID: supplierId}
	}
	if supplier.Role != RoleSupplier || !supplier.IsActive {
		return nil, NewValidationError("supplierId", "user is not an active supplier")
	}

	updated, _, err := s.transition(ctx, actor, caseId, EventAssignSupplier, func(c *Case, now time.Time) (transitionPlan, error) {
		return transitionPlan{
			patch:       CasePatch{SupplierId: stringPtr(supplierId)},
			description: "assigned to supplier " + supplier.Name,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Notify(ctx, caseNotification(updated, supplierId, "case.dispatched",
		"After-sales case "+updated.CaseNumber+" assigned to you",
		"Please review the "+string(updated.IssueType)+" case and propose a resolution."))
	s.audit(ctx, actor, updated, ActionExecuting, map[string]any{"supplierId": supplierId})
	return updated, nil
}

// UpdateResolutionDraft edits the owner's draft while the case is EXECUTING.
func (s *Service) UpdateResolutionDraft(ctx context.Context, actor Actor, caseId, resolution string) (_ *Case, err error) {
	ctx, span := tracer.Start(ctx, "aftersales.UpdateResolutionDraft")
	defer func() { endSpan(span, err) }()

	resolution = strings.TrimSpace(resolution)
	if len(resolution) > maxResolutionLength {
		return nil, NewValidationError("resolution", "resolution is too long")
	}
	updated, _, err := s.transition(ctx, actor, caseId, EventUpdateDraft, func(c *Case, now time.Time) (transitionPlan, error) {
		return transitionPlan{
			patch:       CasePatch{Resolution: stringPtr(resolution)},
			description: "resolution draft updated",
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actor, updated, ActionUpdated, nil)
	return updated, nil
}

// SubmitResolution freezes the resolution text. An empty resolution uses the saved draft.
func (s *Service) SubmitResolution(ctx context.Context, actor Actor, caseId, resolution string) (_ *Case, err error) {
	ctx, span := tracer.Start(ctx, "aftersales.SubmitResolution")
	defer func() { endSpan(span, err) }()

	resolution = strings.TrimSpace(resolution)
	if len(resolution) > maxResolutionLength {
		return nil, NewValidationError("resolution", "resolution is too long")
	}
	updated, _, err := s.transition(ctx, actor, caseId, EventSubmitResolution, func(c *Case, now time.Time) (transitionPlan, error) {
		text := resolution
		if text == "" && c.Resolution != nil {
			text = strings.TrimSpace(*c.Resolution)
		}
		if text == "" {
			return transitionPlan{}, NewValidationError("resolution", "resolution is required")
		}
		submitted := now
		return transitionPlan{
			patch: CasePatch{
				Resolution:            stringPtr(text),
				ResolutionSubmittedAt: &submitted,
			},
			description: "resolution submitted for inspection",
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if recipient := reviewerOf(updated); recipient != "" {
		s.dispatcher.Notify(ctx, caseNotification(updated, recipient, "case.inspecting",
			"Resolution submitted for "+updated.CaseNumber,
			"A resolution is waiting for your confirmation."))
	}
	s.audit(ctx, actor, updated, ActionInspecting, nil)
	return updated, nil
}

func (s *Service) ConfirmResolution(ctx context.Context, actor Actor, caseId, note string) (_ *Case, err error) {
	ctx, span := tracer.Start(ctx, "aftersales.ConfirmResolution")
	defer func() { endSpan(span, err) }()

	updated, _, err := s.transition(ctx, actor, caseId, EventConfirmResolution, func(c *Case, now time.Time) (transitionPlan, error) {
		p := transitionPlan{description: describe("resolution confirmed", note)}
		if c.ResolvedAt == nil {
			resolvedAt := now
			p.patch.ResolvedAt = &resolvedAt
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	if owner := ownerOf(updated); owner != "" {
		s.dispatcher.Notify(ctx, caseNotification(updated, owner, "case.resolved",
			"After-sales case "+updated.CaseNumber+" resolved",
			"Your resolution has been confirmed."))
	}
	s.audit(ctx, actor, updated, ActionResolved, nil)
	return updated, nil
}

func (s *Service) RejectResolution(ctx context.Context, actor Actor, caseId, reason string) (_ *Case, err error) {
	ctx, span := tracer.Start(ctx, "aftersales.RejectResolution")
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	updated, _, err := s.transition(ctx, actor, caseId, EventRejectResolution, func(c *Case, now time.Time) (transitionPlan, error) {
		return transitionPlan{description: describe("resolution sent back", reason)}, nil
	})
	if err != nil {
		return nil, err
	}

	if owner := ownerOf(updated); owner != "" {
		body := "Your resolution was sent back for rework."
		if reason != "" {
			body += " Reason: " + reason
		}
		s.dispatcher.Notify(ctx, caseNotification(updated, owner, "case.rejected",
			"After-sales case "+updated.CaseNumber+" sent back", body))
	}
	s.audit(ctx, actor, updated, "reopened", map[string]any{"reason": reason})
	return updated, nil
}

// UploadReplacementTracking records the shipment carrying a replacement item.
func (s *Service) UploadReplacementTracking(ctx context.Context, actor Actor, caseId string, in UploadReplacementInput) (_ *Case, err error) {
	ctx, span := tracer.Start(ctx, "aftersales.UploadReplacementTracking")
	defer func() { endSpan(span, err) }()

	in.TrackingNumber = strings.TrimSpace(in.TrackingNumber)
	in.Note = strings.TrimSpace(in.Note)
	if err := s.validate.Struct(in); err != nil {
		return nil, &ValidationError{Fields: validationMessages(err)}
	}
	exists, err := s.lookup.ShipmentTrackingExists(ctx, in.TrackingNumber)
	if err != nil {
		return nil, infraError("find shipment", err)
	}
	if exists {
		return nil, NewValidationError("trackingNumber", "tracking number is already recorded")
	}

	updated, _, err := s.transition(ctx, actor, caseId, EventUploadReplacement, func(c *Case, now time.Time) (transitionPlan, error) {
		if !c.IsExchange() {
			return transitionPlan{}, &GuardError{
				Event:        string(EventUploadReplacement),
				CurrentState: c.Status,
				Reason:       "case is not an exchange",
			}
		}
		if nonEmpty(c.ReplacementShipmentId) {
			return transitionPlan{}, &GuardError{
				Event:        string(EventUploadReplacement),
				CurrentState: c.Status,
				Reason:       "replacement shipment already recorded",
			}
		}
		shipment := &Shipment{
			ID:             s.newID(),
			TrackingNumber: in.TrackingNumber,
			Source:         ChannelEcommerce,
			OrderId:        cloneString(c.OrderId),
			CaseId:         stringPtr(c.ID),
			CreatedAt:      now,
		}
		if nonEmpty(c.SupplierId) {
			shipment.Source = ChannelSupplier
			shipment.SupplierId = cloneString(c.SupplierId)
		}
		return transitionPlan{
			patch:       CasePatch{ReplacementShipment: shipment},
			description: describe("replacement shipped with tracking "+in.TrackingNumber, in.Note),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if recipient := reviewerOf(updated); recipient != "" {
		s.dispatcher.Notify(ctx, caseNotification(updated, recipient, "case.replacement_shipped",
			"Replacement shipped for "+updated.CaseNumber,
			"Tracking number: "+in.TrackingNumber))
	}
	s.audit(ctx, actor, updated, "replacement_shipped", map[string]any{"trackingNumber": in.TrackingNumber})
	return updated, nil
}

// OverrideStatus moves a non-terminal case to any other state.
func (s *Service) OverrideStatus(ctx context.Context, actor Actor, caseId, target, note string) (_ *Case, err error) {
	ctx, span := tracer.Start(ctx, "aftersales.OverrideStatus")
	defer func() { endSpan(span, err) }()

	to, err := ParseStatus(target)
	if err != nil {
		return nil, err
	}
	updated, before, err := s.transition(ctx, actor, caseId, EventOverrideStatus, func(c *Case, now time.Time) (transitionPlan, error) {
		if to == c.Status {
			return transitionPlan{}, &GuardError{
				Event:        string(EventOverrideStatus),
				CurrentState: c.Status,
				Reason:       "case is already " + string(to),
			}
		}
		p := transitionPlan{
			to:          to,
			action:      overrideAction(to),
			description: describe("status changed from "+string(c.Status)+" to "+string(to), note),
		}
		if to == StatusResolved && c.ResolvedAt == nil {
			resolvedAt := now
			p.patch.ResolvedAt = &resolvedAt
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor, updated, "override", map[string]any{
		"from": before.Status,
		"to":   updated.Status,
		"note": strings.TrimSpace(note),
	})
	return updated, nil
}

func (s *Service) audit(ctx context.Context, actor Actor, c *Case, action string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["caseNumber"] = c.CaseNumber
	details["status"] = c.Status
	s.dispatcher.Audit(ctx, AuditRecord{
		Action:       auditActionPrefix + strings.ReplaceAll(action, " ", "_"),
		ResourceType: auditResourceCase,
		ResourceId:   c.ID,
		ActorId:      actor.ID,
		Details:      details,
	})
}

// ownerOf is the supplier, or the handler when the case has no supplier.
func ownerOf(c *Case) string {
	if nonEmpty(c.SupplierId) {
		return *c.SupplierId
	}
	if nonEmpty(c.HandlerId) {
		return *c.HandlerId
	}
	return ""
}

// reviewerOf is who confirms the owner's work: the handler of a supplier case, else whoever opened it.
func reviewerOf(c *Case) string {
	if nonEmpty(c.SupplierId) && nonEmpty(c.HandlerId) {
		return *c.HandlerId
	}
	if c.CreatedBy != "" && c.CreatedBy != SystemActor && c.CreatedBy != ownerOf(c) {
		return c.CreatedBy
	}
	return ""
}

func describe(base, note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return base
	}
	return base + ": " + note
}
