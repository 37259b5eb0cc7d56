package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/aftersales"
	"bitbucket.org/mmdatafocus/aftersales_backend/config"
	"gorm.io/gorm"
)

// History is the audit trail of after-sales actions, separate from the
// per-case timeline in CaseLog.
type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ActionType    string    `gorm:"size:50;not null;index" json:"action_type"`
	Details       string    `gorm:"type:text" json:"details"`
	ReferenceID   string    `gorm:"size:36;index" json:"reference_id"`
	ReferenceType string    `gorm:"size:50" json:"reference_type"`
	UserId        string    `gorm:"size:36;index;not null" json:"user_id"`
	CorrelationId string    `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type HistoryRecorder struct {
	db *gorm.DB
}

func NewHistoryRecorder(db *gorm.DB) *HistoryRecorder {
	if db == nil {
		db = config.GetDB()
	}
	return &HistoryRecorder{db: db}
}

func (h *HistoryRecorder) Record(ctx context.Context, r aftersales.AuditRecord) error {
	details, err := json.Marshal(r.Details)
	if err != nil {
		return err
	}
	history := History{
		ActionType:    r.Action,
		Details:       string(details),
		ReferenceID:   r.ResourceId,
		ReferenceType: r.ResourceType,
		UserId:        r.ActorId,
		CorrelationId: correlationIdFromContext(ctx),
	}
	return h.db.WithContext(ctx).Create(&history).Error
}

func GetHistories(ctx context.Context, referenceType string, referenceId string) ([]*History, error) {
	db := config.GetDB()
	var results []*History
	err := db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceId).
		Order("id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
