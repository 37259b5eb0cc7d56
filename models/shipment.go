package models

import (
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
)

// Procurement records read during provenance resolution. The after-sales
// engine only ever inserts replacement shipments; everything else is owned
// by the procurement module.

type Store struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Order struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	StoreId   *string   `gorm:"size:36;index" json:"store_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Rfq struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	RequesterId *string   `gorm:"size:36" json:"requester_id"`
	StoreId     *string   `gorm:"size:36" json:"store_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type RfqItem struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	RfqId          string    `gorm:"size:36;not null;index" json:"rfq_id"`
	TrackingNumber *string   `gorm:"size:100;index" json:"tracking_number"`
	Source         string    `gorm:"size:20;not null" json:"source"`
	CreatedAt      time.Time `json:"created_at"`
}

type OrderRfqLink struct {
	ID        int       `gorm:"primary_key" json:"id"`
	OrderId   string    `gorm:"size:36;not null;index" json:"order_id"`
	RfqId     string    `gorm:"size:36;not null;index" json:"rfq_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Shipment struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	TrackingNumber string    `gorm:"size:100;not null;uniqueIndex" json:"tracking_number"`
	Source         string    `gorm:"size:20;not null" json:"source"`
	SupplierId     *string   `gorm:"size:36;index" json:"supplier_id"`
	OrderId        *string   `gorm:"size:36;index" json:"order_id"`
	RfqItemId      *string   `gorm:"size:36" json:"rfq_item_id"`
	CaseId         *string   `gorm:"size:36;index" json:"case_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func (row *Shipment) toDomain() *aftersales.Shipment {
	return &aftersales.Shipment{
		ID:             row.ID,
		TrackingNumber: row.TrackingNumber,
		Source:         aftersales.Channel(row.Source),
		SupplierId:     row.SupplierId,
		OrderId:        row.OrderId,
		RfqItemId:      row.RfqItemId,
		CaseId:         row.CaseId,
		CreatedAt:      row.CreatedAt,
	}
}

func newShipmentRow(sh *aftersales.Shipment) Shipment {
	return Shipment{
		ID:             sh.ID,
		TrackingNumber: sh.TrackingNumber,
		Source:         string(sh.Source),
		SupplierId:     sh.SupplierId,
		OrderId:        sh.OrderId,
		RfqItemId:      sh.RfqItemId,
		CaseId:         sh.CaseId,
		CreatedAt:      sh.CreatedAt,
	}
}

func (row *RfqItem) toDomain() *aftersales.RfqItem {
	return &aftersales.RfqItem{
		ID:             row.ID,
		RfqId:          row.RfqId,
		TrackingNumber: row.TrackingNumber,
		Source:         aftersales.Channel(row.Source),
	}
}

func (row *Rfq) toDomain() *aftersales.Rfq {
	return &aftersales.Rfq{ID: row.ID, RequesterId: row.RequesterId, StoreId: row.StoreId}
}

func (row *Order) toDomain() aftersales.Order {
	return aftersales.Order{ID: row.ID, StoreId: row.StoreId}
}
