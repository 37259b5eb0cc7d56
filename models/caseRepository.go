package models

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/config"
	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"gorm.io/gorm"
)

// CaseRepository persists cases and their logs in MySQL.
type CaseRepository struct {
	db *gorm.DB
}

func NewCaseRepository(db *gorm.DB) *CaseRepository {
	if db == nil {
		db = config.GetDB()
	}
	return &CaseRepository{db: db}
}

func (r *CaseRepository) Create(ctx context.Context, c *aftersales.Case, entry aftersales.CaseLogEntry) (*aftersales.Case, error) {
	row := newCaseRow(c)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			if utils.IsDuplicateKeyError(err) {
				return aftersales.ErrDuplicateCaseNumber
			}
			return err
		}
		log := newCaseLogRow(entry)
		return tx.Create(&log).Error
	})
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *CaseRepository) GetById(ctx context.Context, id string) (*aftersales.Case, error) {
	var row AfterSalesCase
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// Update applies the patch only while the row still carries the expected
// status and version. The log entry and any replacement shipment are
// written in the same transaction.
func (r *CaseRepository) Update(ctx context.Context, id string, patch aftersales.CasePatch, expect aftersales.Expectation, entry aftersales.CaseLogEntry) (*aftersales.Case, error) {
	var out *aftersales.Case
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := casePatchColumns(patch)
		updates["version"] = gorm.Expr("version + 1")
		updates["updated_at"] = entry.CreatedAt

		res := tx.Model(&AfterSalesCase{}).
			Where("id = ? AND status = ? AND version = ?", id, string(expect.Status), expect.Version).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return aftersales.ErrVersionConflict
		}

		if sh := patch.ReplacementShipment; sh != nil {
			shipment := newShipmentRow(sh)
			if err := tx.Create(&shipment).Error; err != nil {
				if utils.IsDuplicateKeyError(err) {
					return fmt.Errorf("shipment with tracking number %s already exists", sh.TrackingNumber)
				}
				return err
			}
		}

		log := newCaseLogRow(entry)
		if err := tx.Create(&log).Error; err != nil {
			return err
		}

		var row AfterSalesCase
		if err := tx.Where("id = ?", id).Take(&row).Error; err != nil {
			return err
		}
		out = row.toDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func casePatchColumns(patch aftersales.CasePatch) map[string]interface{} {
	updates := map[string]interface{}{}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.SupplierId != nil {
		updates["supplier_id"] = *patch.SupplierId
	}
	if patch.HandlerId != nil {
		updates["handler_id"] = *patch.HandlerId
	}
	if patch.Resolution != nil {
		updates["resolution"] = *patch.Resolution
	}
	if patch.ResolutionSubmittedAt != nil {
		updates["resolution_submitted_at"] = *patch.ResolutionSubmittedAt
	}
	if patch.ResolvedAt != nil {
		updates["resolved_at"] = *patch.ResolvedAt
	}
	if patch.ReplacementShipment != nil {
		updates["replacement_shipment_id"] = patch.ReplacementShipment.ID
	}
	return updates
}

func (r *CaseRepository) ListByFilters(ctx context.Context, filter aftersales.CaseFilter) ([]*aftersales.Case, int64, error) {
	dbCtx := applyCaseFilter(r.db.WithContext(ctx).Model(&AfterSalesCase{}), filter)

	var total int64
	if err := dbCtx.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.OverdueBefore != nil {
		dbCtx = dbCtx.Order("sla_deadline").Order("id")
	} else {
		dbCtx = dbCtx.Order("created_at DESC").Order("case_number DESC")
	}
	if filter.Limit > 0 {
		dbCtx = dbCtx.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		dbCtx = dbCtx.Offset(filter.Offset)
	}

	var rows []AfterSalesCase
	if err := dbCtx.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	results := make([]*aftersales.Case, 0, len(rows))
	for i := range rows {
		results = append(results, rows[i].toDomain())
	}
	return results, total, nil
}

func (r *CaseRepository) CountByStatus(ctx context.Context, filter aftersales.CaseFilter) ([]aftersales.StatusCount, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := applyCaseFilter(r.db.WithContext(ctx).Model(&AfterSalesCase{}), filter).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	results := make([]aftersales.StatusCount, 0, len(rows))
	for _, row := range rows {
		results = append(results, aftersales.StatusCount{Status: aftersales.Status(row.Status), Count: row.Count})
	}
	return results, nil
}

func (r *CaseRepository) ListLogs(ctx context.Context, caseId string) ([]aftersales.CaseLogEntry, error) {
	var rows []CaseLog
	if err := r.db.WithContext(ctx).Where("case_id = ?", caseId).Order("created_at").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	results := make([]aftersales.CaseLogEntry, 0, len(rows))
	for _, row := range rows {
		results = append(results, row.toDomain())
	}
	return results, nil
}

func applyCaseFilter(dbCtx *gorm.DB, f aftersales.CaseFilter) *gorm.DB {
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		dbCtx = dbCtx.Where("status IN ?", statuses)
	}
	if f.IssueType != nil {
		dbCtx = dbCtx.Where("issue_type = ?", string(*f.IssueType))
	}
	if f.Priority != nil {
		dbCtx = dbCtx.Where("priority = ?", string(*f.Priority))
	}
	if f.Channel != nil {
		dbCtx = dbCtx.Where("channel = ?", string(*f.Channel))
	}
	if f.SupplierId != nil {
		dbCtx = dbCtx.Where("supplier_id = ?", *f.SupplierId)
	}
	if f.HandlerId != nil {
		dbCtx = dbCtx.Where("handler_id = ?", *f.HandlerId)
	}
	if f.StoreId != nil {
		dbCtx = dbCtx.Where("store_id = ?", *f.StoreId)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		like := "%" + search + "%"
		dbCtx = dbCtx.Where("case_number LIKE ? OR description LIKE ?", like, like)
	}
	if f.CreatedFrom != nil {
		dbCtx = dbCtx.Where("created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		dbCtx = dbCtx.Where("created_at <= ?", *f.CreatedTo)
	}
	if f.OverdueBefore != nil {
		dbCtx = dbCtx.Where("sla_deadline < ?", *f.OverdueBefore)
	}
	return dbCtx
}

// AttachmentRepository stores attachment metadata; the bytes live in the blob store.
type AttachmentRepository struct {
	db *gorm.DB
}

func NewAttachmentRepository(db *gorm.DB) *AttachmentRepository {
	if db == nil {
		db = config.GetDB()
	}
	return &AttachmentRepository{db: db}
}

func (r *AttachmentRepository) Create(ctx context.Context, a *aftersales.Attachment) (*aftersales.Attachment, error) {
	row := CaseAttachment{
		ID:           a.ID,
		CaseId:       a.CaseId,
		StorageKey:   a.StorageKey,
		ThumbnailKey: a.ThumbnailKey,
		MediaType:    a.MediaType,
		Filename:     a.Filename,
		Size:         a.Size,
		UploadedBy:   a.UploadedBy,
		CreatedAt:    a.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *AttachmentRepository) GetById(ctx context.Context, id string) (*aftersales.Attachment, error) {
	var row CaseAttachment
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *AttachmentRepository) ListByCase(ctx context.Context, caseId string) ([]*aftersales.Attachment, error) {
	var rows []CaseAttachment
	if err := r.db.WithContext(ctx).Where("case_id = ?", caseId).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	results := make([]*aftersales.Attachment, 0, len(rows))
	for i := range rows {
		results = append(results, rows[i].toDomain())
	}
	return results, nil
}
