package aftersales

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SystemActor is recorded on log entries written by automated transitions.
const SystemActor = "system"

type Status string

const (
	StatusOpened     Status = "OPENED"
	StatusExecuting  Status = "EXECUTING"
	StatusInspecting Status = "INSPECTING"
	StatusResolved   Status = "RESOLVED"
	StatusClosed     Status = "CLOSED"
	StatusCancelled  Status = "CANCELLED"
)

var AllStatuses = []Status{
	StatusOpened,
	StatusExecuting,
	StatusInspecting,
	StatusResolved,
	StatusClosed,
	StatusCancelled,
}

func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed || s == StatusCancelled
}

func (s Status) Valid() bool {
	_, ok := statusByName[string(s)]
	return ok
}

var statusByName = map[string]Status{
	"OPENED":     StatusOpened,
	"EXECUTING":  StatusExecuting,
	"INSPECTING": StatusInspecting,
	"RESOLVED":   StatusResolved,
	"CLOSED":     StatusClosed,
	"CANCELLED":  StatusCancelled,
}

func ParseStatus(v string) (Status, error) {
	s, ok := statusByName[strings.ToUpper(strings.TrimSpace(v))]
	if !ok {
		return "", NewValidationError("status", "invalid status "+v)
	}
	return s, nil
}

type IssueType string

const (
	IssueTypeDamaged        IssueType = "damaged"
	IssueTypeMissing        IssueType = "missing"
	IssueTypeWrongItem      IssueType = "wrong_item"
	IssueTypeRepairExchange IssueType = "repair_exchange"
	IssueTypeClaim          IssueType = "claim"
	IssueTypeDiscount       IssueType = "discount"
	IssueTypeScrap          IssueType = "scrap"
)

var issueTypeByName = map[string]IssueType{
	"damaged":         IssueTypeDamaged,
	"missing":         IssueTypeMissing,
	"wrong_item":      IssueTypeWrongItem,
	"repair_exchange": IssueTypeRepairExchange,
	"claim":           IssueTypeClaim,
	"discount":        IssueTypeDiscount,
	"scrap":           IssueTypeScrap,
}

func ParseIssueType(v string) (IssueType, error) {
	key := strings.ToLower(strings.TrimSpace(v))
	key = strings.NewReplacer("-", "_", "/", "_", " ", "_").Replace(key)
	t, ok := issueTypeByName[key]
	if !ok {
		return "", NewValidationError("issueType", "invalid issue type "+v)
	}
	return t, nil
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityByName = map[string]Priority{
	"low":    PriorityLow,
	"medium": PriorityMedium,
	"high":   PriorityHigh,
	"urgent": PriorityUrgent,
}

func ParsePriority(v string) (Priority, error) {
	p, ok := priorityByName[strings.ToLower(strings.TrimSpace(v))]
	if !ok {
		return "", NewValidationError("priority", "invalid priority "+v)
	}
	return p, nil
}

// Channel is the fulfillment source a shipment or request item was recorded with.
type Channel string

const (
	ChannelSupplier  Channel = "SUPPLIER"
	ChannelEcommerce Channel = "ECOMMERCE"
	ChannelUnknown   Channel = "UNKNOWN"
)

func ParseChannel(v string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "SUPPLIER":
		return ChannelSupplier, nil
	case "ECOMMERCE":
		return ChannelEcommerce, nil
	case "UNKNOWN":
		return ChannelUnknown, nil
	}
	return "", NewValidationError("channel", "invalid channel "+v)
}

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleBuyer    Role = "buyer"
	RoleSupplier Role = "supplier"
)

func ParseRole(v string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "admin":
		return RoleAdmin, nil
	case "buyer":
		return RoleBuyer, nil
	case "supplier":
		return RoleSupplier, nil
	}
	return "", NewValidationError("role", "invalid role "+v)
}

func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleBuyer
}

type Route string

const (
	RouteAutoSupplier Route = "AUTO_SUPPLIER"
	RouteAutoBuyer    Route = "AUTO_BUYER"
	RouteManual       Route = "MANUAL"
)

// Actor is the caller of an operation.
type Actor struct {
	ID   string
	Role Role
}

func SystemCaller() Actor {
	return Actor{ID: SystemActor, Role: RoleAdmin}
}

type Case struct {
	ID                    string           `json:"id"`
	CaseNumber            string           `json:"caseNumber"`
	OrderId               *string          `json:"orderId"`
	ShipmentId            *string          `json:"shipmentId"`
	ReplacementShipmentId *string          `json:"replacementShipmentId"`
	StoreId               *string          `json:"storeId"`
	SupplierId            *string          `json:"supplierId"`
	CustomerId            *string          `json:"customerId"`
	HandlerId             *string          `json:"handlerId"`
	Channel               Channel          `json:"channel"`
	TrackingNumber        *string          `json:"trackingNumber"`
	IssueType             IssueType        `json:"issueType"`
	Priority              Priority         `json:"priority"`
	Description           string           `json:"description"`
	ClaimAmount           *decimal.Decimal `json:"claimAmount"`
	Disposition           *string          `json:"disposition"`
	ContactPhone          *string          `json:"contactPhone"`
	Resolution            *string          `json:"resolution"`
	ResolutionSubmittedAt *time.Time       `json:"resolutionSubmittedAt"`
	Status                Status           `json:"status"`
	SlaDeadline           time.Time        `json:"slaDeadline"`
	ResolvedAt            *time.Time       `json:"resolvedAt"`
	Version               int              `json:"version"`
	CreatedBy             string           `json:"createdBy"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	out := *c
	out.OrderId = cloneString(c.OrderId)
	out.ShipmentId = cloneString(c.ShipmentId)
	out.ReplacementShipmentId = cloneString(c.ReplacementShipmentId)
	out.StoreId = cloneString(c.StoreId)
	out.SupplierId = cloneString(c.SupplierId)
	out.CustomerId = cloneString(c.CustomerId)
	out.HandlerId = cloneString(c.HandlerId)
	out.TrackingNumber = cloneString(c.TrackingNumber)
	out.Disposition = cloneString(c.Disposition)
	out.ContactPhone = cloneString(c.ContactPhone)
	out.Resolution = cloneString(c.Resolution)
	if c.ClaimAmount != nil {
		v := *c.ClaimAmount
		out.ClaimAmount = &v
	}
	if c.ResolutionSubmittedAt != nil {
		v := *c.ResolutionSubmittedAt
		out.ResolutionSubmittedAt = &v
	}
	if c.ResolvedAt != nil {
		v := *c.ResolvedAt
		out.ResolvedAt = &v
	}
	return &out
}

// IsExchange reports whether the case ships a replacement item.
func (c *Case) IsExchange() bool {
	if c.IssueType == IssueTypeRepairExchange {
		return true
	}
	return c.Disposition != nil && strings.EqualFold(strings.TrimSpace(*c.Disposition), "exchange")
}

func (c *Case) OwnedBy(supplierId string) bool {
	return c.SupplierId != nil && *c.SupplierId != "" && *c.SupplierId == supplierId
}

type CaseLogEntry struct {
	ID          string    `json:"id"`
	CaseId      string    `json:"caseId"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	ActorId     string    `json:"actorId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Attachment struct {
	ID           string    `json:"id"`
	CaseId       string    `json:"caseId"`
	StorageKey   string    `json:"storageKey"`
	ThumbnailKey *string   `json:"thumbnailKey,omitempty"`
	MediaType    string    `json:"mediaType"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	UploadedBy   string    `json:"uploadedBy"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ProvenanceResult is produced fresh on every resolution call.
type ProvenanceResult struct {
	Channel    Channel `json:"channel"`
	SupplierId *string `json:"supplierId"`
	OrderId    *string `json:"orderId"`
	StoreId    *string `json:"storeId"`
	ShipmentId *string `json:"shipmentId"`
	RfqId      *string `json:"rfqId,omitempty"`
}

func UnknownProvenance() ProvenanceResult {
	return ProvenanceResult{Channel: ChannelUnknown}
}

type AssignmentDecision struct {
	Route   Route   `json:"route"`
	ActorId *string `json:"actorId"`
	Warning string  `json:"warning,omitempty"`
}

// Lookup records read by the resolvers.

type Shipment struct {
	ID             string
	TrackingNumber string
	Source         Channel
	SupplierId     *string
	OrderId        *string
	RfqItemId      *string
	CaseId         *string
	CreatedAt      time.Time
}

type RfqItem struct {
	ID             string
	RfqId          string
	TrackingNumber *string
	Source         Channel
}

type Rfq struct {
	ID          string
	RequesterId *string
	StoreId     *string
}

type Order struct {
	ID      string
	StoreId *string
}

type User struct {
	ID        string
	Name      string
	Role      Role
	IsActive  bool
	CreatedAt time.Time
}

type CaseFilter struct {
	Statuses      []Status
	IssueType     *IssueType
	Priority      *Priority
	Channel       *Channel
	SupplierId    *string
	HandlerId     *string
	StoreId       *string
	Search        string
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	OverdueBefore *time.Time
	Limit         int
	Offset        int
}

type StatusCount struct {
	Status Status `json:"status"`
	Count  int64  `json:"count"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func stringPtr(s string) *string {
	return &s
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
