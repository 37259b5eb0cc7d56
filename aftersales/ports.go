package aftersales

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateCaseNumber is returned by CaseRepository.Create when the case number is taken.
var ErrDuplicateCaseNumber = errors.New("duplicate case number")

// CasePatch lists the fields a transition writes. Nil fields are left untouched.
type CasePatch struct {
	Status                *Status
	SupplierId            *string
	HandlerId             *string
	Resolution            *string
	ResolutionSubmittedAt *time.Time
	ResolvedAt            *time.Time
	// ReplacementShipment is inserted in the same transaction and linked to the case.
	ReplacementShipment *Shipment
}

// Expectation is the state a conditional update is keyed on.
type Expectation struct {
	Status  Status
	Version int
}

// CaseRepository is the single mutable source of truth for cases and their logs.
// Create and Update persist the case row and its log entry as one unit.
type CaseRepository interface {
	Create(ctx context.Context, c *Case, entry CaseLogEntry) (*Case, error)
	// GetById returns (nil, nil) when the case does not exist.
	GetById(ctx context.Context, id string) (*Case, error)
	// Update returns ErrVersionConflict when the stored row no longer matches expect.
	Update(ctx context.Context, id string, patch CasePatch, expect Expectation, entry CaseLogEntry) (*Case, error)
	ListByFilters(ctx context.Context, filter CaseFilter) ([]*Case, int64, error)
	CountByStatus(ctx context.Context, filter CaseFilter) ([]StatusCount, error)
	ListLogs(ctx context.Context, caseId string) ([]CaseLogEntry, error)
}

type AttachmentRepository interface {
	Create(ctx context.Context, a *Attachment) (*Attachment, error)
	// GetById returns (nil, nil) when the attachment does not exist.
	GetById(ctx context.Context, id string) (*Attachment, error)
	ListByCase(ctx context.Context, caseId string) ([]*Attachment, error)
}

// ProvenanceLookup is read-only. Missing records are reported as (nil, nil).
type ProvenanceLookup interface {
	// FindShipmentByTrackingNo skips replacement shipments recorded against a case.
	FindShipmentByTrackingNo(ctx context.Context, trackingNo string) (*Shipment, error)
	// ShipmentTrackingExists includes replacement shipments.
	ShipmentTrackingExists(ctx context.Context, trackingNo string) (bool, error)
	FindShipmentById(ctx context.Context, id string) (*Shipment, error)
	FindLatestShipmentByOrderId(ctx context.Context, orderId string) (*Shipment, error)
	FindRequestItemById(ctx context.Context, id string) (*RfqItem, error)
	FindRequestItemByTrackingNo(ctx context.Context, trackingNo string, source Channel) (*RfqItem, error)
	FindRequestById(ctx context.Context, id string) (*Rfq, error)
	// FindOrderRequestLink returns the request linked to the order, if any.
	FindOrderRequestLink(ctx context.Context, orderId string) (*Rfq, error)
	// FindOrdersByRequestId returns linked orders in link creation order.
	FindOrdersByRequestId(ctx context.Context, rfqId string) ([]Order, error)
	FindOrderById(ctx context.Context, id string) (*Order, error)
	RequestHasEcommerceTracking(ctx context.Context, rfqId string) (bool, error)
	StoreExists(ctx context.Context, id string) (bool, error)
}

type UserDirectory interface {
	FindById(ctx context.Context, id string) (*User, error)
	// FindActiveUsersByRole returns users ordered by creation time, then id.
	FindActiveUsersByRole(ctx context.Context, role Role) ([]User, error)
}

type Notification struct {
	RecipientId string `json:"recipientId"`
	EventType   string `json:"eventType"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	LinkPath    string `json:"linkPath"`
	CaseId      string `json:"caseId"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type AuditRecord struct {
	Action       string         `json:"action"`
	ResourceType string         `json:"resourceType"`
	ResourceId   string         `json:"resourceId"`
	ActorId      string         `json:"actorId"`
	Details      map[string]any `json:"details,omitempty"`
}

type AuditLogger interface {
	Record(ctx context.Context, r AuditRecord) error
}

type BlobMeta struct {
	Prefix      string
	Filename    string
	ContentType string
}

// BlobStore keys are opaque; callers never build public URLs from them.
type BlobStore interface {
	Put(ctx context.Context, data []byte, meta BlobMeta) (string, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type CaseNumberGenerator interface {
	Next(ctx context.Context, at time.Time) (string, error)
}

type Thumbnailer interface {
	Thumbnail(data []byte) ([]byte, error)
}
