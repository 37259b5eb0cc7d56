package models

import (
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"github.com/shopspring/decimal"
)

type AfterSalesCase struct {
	ID                    string           `gorm:"primaryKey;size:36" json:"id"`
	CaseNumber            string           `gorm:"size:20;not null;uniqueIndex" json:"case_number"`
	OrderId               *string          `gorm:"size:36;index" json:"order_id"`
	ShipmentId            *string          `gorm:"size:36;index" json:"shipment_id"`
	ReplacementShipmentId *string          `gorm:"size:36" json:"replacement_shipment_id"`
	StoreId               *string          `gorm:"size:36;index" json:"store_id"`
	SupplierId            *string          `gorm:"size:36;index" json:"supplier_id"`
	CustomerId            *string          `gorm:"size:36" json:"customer_id"`
	HandlerId             *string          `gorm:"size:36;index" json:"handler_id"`
	Channel               string           `gorm:"size:20;not null;index" json:"channel"`
	TrackingNumber        *string          `gorm:"size:100;index" json:"tracking_number"`
	IssueType             string           `gorm:"size:30;not null" json:"issue_type"`
	Priority              string           `gorm:"size:10;not null" json:"priority"`
	Description           string           `gorm:"type:text;not null" json:"description"`
	ClaimAmount           *decimal.Decimal `gorm:"type:decimal(20,4)" json:"claim_amount"`
	Disposition           *string          `gorm:"size:50" json:"disposition"`
	ContactPhone          *string          `gorm:"size:20" json:"contact_phone"`
	Resolution            *string          `gorm:"type:text" json:"resolution"`
	ResolutionSubmittedAt *time.Time       `json:"resolution_submitted_at"`
	Status                string           `gorm:"size:20;not null;index" json:"status"`
	SlaDeadline           time.Time        `gorm:"not null;index" json:"sla_deadline"`
	ResolvedAt            *time.Time       `json:"resolved_at"`
	Version               int              `gorm:"not null;default:1" json:"version"`
	CreatedBy             string           `gorm:"size:36;not null" json:"created_by"`
	CreatedAt             time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

func (AfterSalesCase) TableName() string { return "after_sales_cases" }

// CaseLog is append-only; rows are never updated or deleted.
type CaseLog struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	CaseId      string    `gorm:"size:36;not null;index" json:"case_id"`
	Action      string    `gorm:"size:30;not null" json:"action"`
	Description string    `gorm:"type:text" json:"description"`
	ActorId     string    `gorm:"size:36;not null" json:"actor_id"`
	CreatedAt   time.Time `gorm:"precision:6;index" json:"created_at"`
}

func (CaseLog) TableName() string { return "after_sales_case_logs" }

type CaseAttachment struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	CaseId       string    `gorm:"size:36;not null;index" json:"case_id"`
	StorageKey   string    `gorm:"size:255;not null" json:"storage_key"`
	ThumbnailKey *string   `gorm:"size:255" json:"thumbnail_key"`
	MediaType    string    `gorm:"size:100;not null" json:"media_type"`
	Filename     string    `gorm:"size:255;not null" json:"filename"`
	Size         int64     `gorm:"not null" json:"size"`
	UploadedBy   string    `gorm:"size:36;not null" json:"uploaded_by"`
	CreatedAt    time.Time `json:"created_at"`
}

func (CaseAttachment) TableName() string { return "after_sales_attachments" }

func newCaseRow(c *aftersales.Case) AfterSalesCase {
	return AfterSalesCase{
		ID:                    c.ID,
		CaseNumber:            c.CaseNumber,
		OrderId:               c.OrderId,
		ShipmentId:            c.ShipmentId,
		ReplacementShipmentId: c.ReplacementShipmentId,
		StoreId:               c.StoreId,
		SupplierId:            c.SupplierId,
		CustomerId:            c.CustomerId,
		HandlerId:             c.HandlerId,
		Channel:               string(c.Channel),
		TrackingNumber:        c.TrackingNumber,
		IssueType:             string(c.IssueType),
		Priority:              string(c.Priority),
		Description:           c.Description,
		ClaimAmount:           c.ClaimAmount,
		Disposition:           c.Disposition,
		ContactPhone:          c.ContactPhone,
		Resolution:            c.Resolution,
		ResolutionSubmittedAt: c.ResolutionSubmittedAt,
		Status:                string(c.Status),
		SlaDeadline:           c.SlaDeadline,
		ResolvedAt:            c.ResolvedAt,
		Version:               c.Version,
		CreatedBy:             c.CreatedBy,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

func (row *AfterSalesCase) toDomain() *aftersales.Case {
	return &aftersales.Case{
		ID:                    row.ID,
		CaseNumber:            row.CaseNumber,
		OrderId:               row.OrderId,
		ShipmentId:            row.ShipmentId,
		ReplacementShipmentId: row.ReplacementShipmentId,
		StoreId:               row.StoreId,
		SupplierId:            row.SupplierId,
		CustomerId:            row.CustomerId,
		HandlerId:             row.HandlerId,
		Channel:               aftersales.Channel(row.Channel),
		TrackingNumber:        row.TrackingNumber,
		IssueType:             aftersales.IssueType(row.IssueType),
		Priority:              aftersales.Priority(row.Priority),
		Description:           row.Description,
		ClaimAmount:           row.ClaimAmount,
		Disposition:           row.Disposition,
		ContactPhone:          row.ContactPhone,
		Resolution:            row.Resolution,
		ResolutionSubmittedAt: row.ResolutionSubmittedAt,
		Status:                aftersales.Status(row.Status),
		SlaDeadline:           row.SlaDeadline,
		ResolvedAt:            row.ResolvedAt,
		Version:               row.Version,
		CreatedBy:             row.CreatedBy,
		CreatedAt:             row.CreatedAt,
		UpdatedAt:             row.UpdatedAt,
	}
}

func newCaseLogRow(e aftersales.CaseLogEntry) CaseLog {
	return CaseLog{
		ID:          e.ID,
		CaseId:      e.CaseId,
		Action:      e.Action,
		Description: e.Description,
		ActorId:     e.ActorId,
		CreatedAt:   e.CreatedAt,
	}
}

func (row CaseLog) toDomain() aftersales.CaseLogEntry {
	return aftersales.CaseLogEntry{
		ID:          row.ID,
		CaseId:      row.CaseId,
		Action:      row.Action,
		Description: row.Description,
		ActorId:     row.ActorId,
		CreatedAt:   row.CreatedAt,
	}
}

func (row *CaseAttachment) toDomain() *aftersales.Attachment {
	return &aftersales.Attachment{
		ID:           row.ID,
		CaseId:       row.CaseId,
		StorageKey:   row.StorageKey,
		ThumbnailKey: row.ThumbnailKey,
		MediaType:    row.MediaType,
		Filename:     row.Filename,
		Size:         row.Size,
		UploadedBy:   row.UploadedBy,
		CreatedAt:    row.CreatedAt,
	}
}
