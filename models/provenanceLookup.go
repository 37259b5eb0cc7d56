package models

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/config"
	"gorm.io/gorm"
)

// ProvenanceLookup reads procurement records. A missing row is (nil, nil).
type ProvenanceLookup struct {
	db *gorm.DB
}

func NewProvenanceLookup(db *gorm.DB) *ProvenanceLookup {
	if db == nil {
		db = config.GetDB()
	}
	return &ProvenanceLookup{db: db}
}

// take runs query into dest and folds gorm.ErrRecordNotFound into found=false.
func take(query *gorm.DB, dest interface{}) (bool, error) {
	err := query.Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *ProvenanceLookup) FindShipmentByTrackingNo(ctx context.Context, trackingNo string) (*aftersales.Shipment, error) {
	var row Shipment
	found, err := take(l.db.WithContext(ctx).Where("tracking_number = ? AND case_id IS NULL", trackingNo), &row)
	if err != nil || !found {
		return nil, err
	}
	return row.toDomain(), nil
}

func (l *ProvenanceLookup) ShipmentTrackingExists(ctx context.Context, trackingNo string) (bool, error) {
	var count int64
	if err := l.db.WithContext(ctx).Model(&Shipment{}).Where("tracking_number = ?", trackingNo).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (l *ProvenanceLookup) FindShipmentById(ctx context.Context, id string) (*aftersales.Shipment, error) {
	var row Shipment
	found, err := take(l.db.WithContext(ctx).Where("id = ?", id), &row)
	if err != nil || !found {
		return nil, err
	}
	return row.toDomain(), nil
}

// FindLatestShipmentByOrderId skips replacement shipments recorded against a case.
func (l *ProvenanceLookup) FindLatestShipmentByOrderId(ctx context.Context, orderId string) (*aftersales.Shipment, error) {
	var row Shipment
	found, err := take(l.db.WithContext(ctx).
		Where("order_id = ? AND case_id IS NULL", orderId).
		Order("created_at DESC").Order("id DESC"), &row)
	if err != nil || !found {
		return nil, err
	}
	return row.toDomain(), nil
}

func (l *ProvenanceLookup) FindRequestItemById(ctx context.Context, id string) (*aftersales.RfqItem, error) {
	var row RfqItem
	found, err := take(l.db.WithContext(ctx).Where("id = ?", id), &row)
	if err != nil || !found {
		return nil, err
	}
	return row.toDomain(), nil
}

func (l *ProvenanceLookup) FindRequestItemByTrackingNo(ctx context.Context, trackingNo string, source aftersales.Channel) (*aftersales.RfqItem, error) {
	var row RfqItem
	found, err := take(l.db.WithContext(ctx).
		Where("tracking_number = ? AND source = ?", trackingNo, string(source)).
		Order("created_at").Order("id"), &row)
	if err != nil || !found {
		return nil, err
	}
	return row.toDomain(), nil
}

func (l *ProvenanceLookup) FindRequestById(ctx context.Context, id string) (*aftersales.Rfq, error) {
	var row Rfq
	found, err := take(l.db.WithContext(ctx).Where("id = ?", id), &row)
	if err != nil || !found {
		return nil, err
	}
	return row.toDomain(), nil
}

func (l *ProvenanceLookup) FindOrderRequestLink(ctx context.Context, orderId string) (*aftersales.Rfq, error) {
	var row Rfq
	found, err := take(l.db.WithContext(ctx).
		Table("rfqs").
		Select("rfqs.*").
		Joins("JOIN order_rfq_links ON order_rfq_links.rfq_id = rfqs.id").
		Where("order_rfq_links.order_id = ?", orderId).
		Order("order_rfq_links.id"), &row)
	if err != nil || !found {
		return nil, err
	}
	return row.toDomain(), nil
}

func (l *ProvenanceLookup) FindOrdersByRequestId(ctx context.Context, rfqId string) ([]aftersales.Order, error) {
	var rows []Order
	err := l.db.WithContext(ctx).
		Table("orders").
		Select("orders.*").
		Joins("JOIN order_rfq_links ON order_rfq_links.order_id = orders.id").
		Where("order_rfq_links.rfq_id = ?", rfqId).
		Order("order_rfq_links.id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	results := make([]aftersales.Order, 0, len(rows))
	for i := range rows {
		results = append(results, rows[i].toDomain())
	}
	return results, nil
}

func (l *ProvenanceLookup) FindOrderById(ctx context.Context, id string) (*aftersales.Order, error) {
	var row Order
	found, err := take(l.db.WithContext(ctx).Where("id = ?", id), &row)
	if err != nil || !found {
		return nil, err
	}
	o := row.toDomain()
	return &o, nil
}

func (l *ProvenanceLookup) RequestHasEcommerceTracking(ctx context.Context, rfqId string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&RfqItem{}).
		Where("rfq_id = ? AND source = ? AND tracking_number IS NOT NULL AND TRIM(tracking_number) <> ''", rfqId, string(aftersales.ChannelEcommerce)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (l *ProvenanceLookup) StoreExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := l.db.WithContext(ctx).Model(&Store{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// StoreNames returns names for the ids that exist.
func (l *ProvenanceLookup) StoreNames(ctx context.Context, ids []string) (map[string]string, error) {
	var rows []Store
	if err := l.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	names := make(map[string]string, len(rows))
	for _, row := range rows {
		names[row.ID] = row.Name
	}
	return names, nil
}
