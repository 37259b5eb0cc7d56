package aftersales

import "strings"

type Event string

const (
	EventOpen              Event = "open case"
	EventAutoDispatch      Event = "auto-dispatch to supplier"
	EventAssignSupplier    Event = "assign to supplier"
	EventUpdateDraft       Event = "update resolution draft"
	EventSubmitResolution  Event = "submit resolution"
	EventConfirmResolution Event = "confirm resolution"
	EventRejectResolution  Event = "reject resolution"
	EventUploadReplacement Event = "upload replacement tracking"
	EventOverrideStatus    Event = "override status"
)

// Log actions written per transition.
const (
	ActionOpened             = "opened"
	ActionExecuting          = "executing"
	ActionUpdated            = "updated"
	ActionInspecting         = "inspecting"
	ActionResolved           = "resolved"
	ActionReplacementShipped = "replacement shipped"
)

const (
	auditActionPrefix         = "case."
	auditResourceCase         = "after_sales_case"
	auditResourceAttachment   = "after_sales_attachment"
	notificationLinkPathCases = "/after-sales/cases/"
)

type ownership int

const (
	anyActor ownership = iota
	staffOnly
	ownerOnly
	systemOnly
)

type transitionRule struct {
	from   []Status
	to     Status // empty keeps the current state
	who    ownership
	action string
}

var transitionTable = map[Event]transitionRule{
	EventAutoDispatch: {
		from:   []Status{StatusOpened},
		to:     StatusExecuting,
		who:    systemOnly,
		action: ActionExecuting,
	},
	EventAssignSupplier: {
		from:   []Status{StatusOpened},
		to:     StatusExecuting,
		who:    staffOnly,
		action: ActionExecuting,
	},
	EventUpdateDraft: {
		from:   []Status{StatusExecuting},
		who:    ownerOnly,
		action: ActionUpdated,
	},
	EventSubmitResolution: {
		from:   []Status{StatusExecuting},
		to:     StatusInspecting,
		who:    ownerOnly,
		action: ActionInspecting,
	},
	EventConfirmResolution: {
		from:   []Status{StatusInspecting},
		to:     StatusResolved,
		who:    staffOnly,
		action: ActionResolved,
	},
	EventRejectResolution: {
		from:   []Status{StatusInspecting},
		to:     StatusExecuting,
		who:    staffOnly,
		action: ActionExecuting,
	},
	EventUploadReplacement: {
		from:   []Status{StatusExecuting},
		who:    ownerOnly,
		action: ActionReplacementShipped,
	},
	EventOverrideStatus: {
		from: []Status{StatusOpened, StatusExecuting, StatusInspecting},
		who:  staffOnly,
	},
}

// checkTransition validates state first, then the caller.
func checkTransition(event Event, c *Case, actor Actor) (transitionRule, error) {
	rule, ok := transitionTable[event]
	if !ok {
		return transitionRule{}, &GuardError{Event: string(event), CurrentState: c.Status, Reason: "unknown event"}
	}
	if !statusIn(c.Status, rule.from) {
		return rule, &GuardError{
			Event:          string(event),
			CurrentState:   c.Status,
			RequiredStates: rule.from,
		}
	}
	switch rule.who {
	case staffOnly:
		if !actor.Role.IsStaff() {
			return rule, &GuardError{
				Event:         string(event),
				CurrentState:  c.Status,
				RequiredRoles: []Role{RoleAdmin, RoleBuyer},
			}
		}
	case ownerOnly:
		if !isOwner(c, actor) {
			return rule, &GuardError{
				Event:         string(event),
				CurrentState:  c.Status,
				RequiredRoles: []Role{RoleSupplier},
				Reason:        "only the owning supplier may do this",
			}
		}
	case systemOnly:
		if actor.ID != SystemActor {
			return rule, &GuardError{Event: string(event), CurrentState: c.Status, Reason: "automated transition"}
		}
	}
	return rule, nil
}

// isOwner: the owning supplier, or the handler of a case that has no supplier.
func isOwner(c *Case, actor Actor) bool {
	if nonEmpty(c.SupplierId) {
		return actor.Role == RoleSupplier && c.OwnedBy(actor.ID)
	}
	return actor.Role == RoleBuyer && c.HandlerId != nil && *c.HandlerId == actor.ID
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// overrideAction is the log action for a manual override to target.
func overrideAction(target Status) string {
	return strings.ToLower(string(target))
}

// canView: staff see every case, suppliers only their own.
func canView(c *Case, actor Actor) bool {
	if actor.Role.IsStaff() {
		return true
	}
	return actor.Role == RoleSupplier && c.OwnedBy(actor.ID)
}
