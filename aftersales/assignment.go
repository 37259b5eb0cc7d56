package aftersales

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

const warnNoActiveBuyer = "no active buyer available; case left for manual triage"

// Assigner decides who handles a newly opened case.
type Assigner struct {
	lookup ProvenanceLookup
	users  UserDirectory
	logger *logrus.Logger
}

func NewAssigner(lookup ProvenanceLookup, users UserDirectory, logger *logrus.Logger) *Assigner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Assigner{lookup: lookup, users: users, logger: logger}
}

// ResolveAssignment never fails: lookup errors and panics degrade to MANUAL.
func (a *Assigner) ResolveAssignment(ctx context.Context, prov ProvenanceResult) (decision AssignmentDecision) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithFields(logrus.Fields{
				"module":  "aftersales",
				"channel": prov.Channel,
			}).Error(fmt.Sprintf("assignment panicked: %v", r))
			decision = AssignmentDecision{Route: RouteManual, Warning: "assignment failed"}
		}
	}()

	d, err := a.decide(ctx, prov)
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"module":  "aftersales",
			"channel": prov.Channel,
		}).Error("assignment lookup failed, falling back to manual: " + err.Error())
		return AssignmentDecision{Route: RouteManual, Warning: "assignment failed: " + err.Error()}
	}
	return d
}

func (a *Assigner) decide(ctx context.Context, prov ProvenanceResult) (AssignmentDecision, error) {
	switch prov.Channel {
	case ChannelSupplier:
		if nonEmpty(prov.SupplierId) {
			return AssignmentDecision{Route: RouteAutoSupplier, ActorId: cloneString(prov.SupplierId)}, nil
		}
		return AssignmentDecision{Route: RouteManual, Warning: "supplier channel without supplier"}, nil
	case ChannelEcommerce:
		return a.decideEcommerce(ctx, prov)
	}
	return AssignmentDecision{Route: RouteManual}, nil
}

func (a *Assigner) decideEcommerce(ctx context.Context, prov ProvenanceResult) (AssignmentDecision, error) {
	requests, err := a.candidateRequests(ctx, prov)
	if err != nil {
		return AssignmentDecision{}, err
	}
	for _, rfq := range requests {
		actor, err := a.buyerForRequest(ctx, rfq)
		if err != nil {
			return AssignmentDecision{}, err
		}
		if actor != "" {
			return AssignmentDecision{Route: RouteAutoBuyer, ActorId: stringPtr(actor)}, nil
		}
	}

	buyer, err := a.firstActiveBuyer(ctx)
	if err != nil {
		return AssignmentDecision{}, err
	}
	if buyer != "" {
		return AssignmentDecision{Route: RouteAutoBuyer, ActorId: stringPtr(buyer)}, nil
	}
	return AssignmentDecision{Route: RouteManual, Warning: warnNoActiveBuyer}, nil
}

// candidateRequests lists the shipment's request first, then the order's linked request.
func (a *Assigner) candidateRequests(ctx context.Context, prov ProvenanceResult) ([]*Rfq, error) {
	var out []*Rfq
	seen := map[string]bool{}
	if nonEmpty(prov.RfqId) {
		rfq, err := a.lookup.FindRequestById(ctx, *prov.RfqId)
		if err != nil {
			return nil, err
		}
		if rfq != nil {
			out = append(out, rfq)
			seen[rfq.ID] = true
		}
	}
	if nonEmpty(prov.OrderId) {
		rfq, err := a.lookup.FindOrderRequestLink(ctx, *prov.OrderId)
		if err != nil {
			return nil, err
		}
		if rfq != nil && !seen[rfq.ID] {
			out = append(out, rfq)
		}
	}
	return out, nil
}

// buyerForRequest returns the requester when they are a buyer, or the first
// active buyer when the request was raised by an admin on someone's behalf.
func (a *Assigner) buyerForRequest(ctx context.Context, rfq *Rfq) (string, error) {
	if !nonEmpty(rfq.RequesterId) {
		return "", nil
	}
	requester, err := a.users.FindById(ctx, *rfq.RequesterId)
	if err != nil {
		return "", err
	}
	if requester == nil {
		return "", nil
	}
	switch requester.Role {
	case RoleBuyer:
		if requester.IsActive {
			return requester.ID, nil
		}
	case RoleAdmin:
		return a.firstActiveBuyer(ctx)
	}
	return "", nil
}

func (a *Assigner) firstActiveBuyer(ctx context.Context) (string, error) {
	buyers, err := a.users.FindActiveUsersByRole(ctx, RoleBuyer)
	if err != nil {
		return "", err
	}
	for _, b := range buyers {
		if b.IsActive && b.Role == RoleBuyer {
			return b.ID, nil
		}
	}
	return "", nil
}
