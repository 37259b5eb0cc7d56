package models

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/aftersales_backend/config"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	caseNumberPrefix    = "AS"
	caseNumberKeyPrefix = "aftersales:caseno:"
	caseNumberKeyTTL    = 48 * time.Hour
)

// CaseNumberGenerator hands out AS-YYYYMMDD-NNNN numbers from a per-day
// Redis counter. Without Redis it falls back to the highest stored number.
// Collisions are caught by the unique index on case_number.
type CaseNumberGenerator struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewCaseNumberGenerator(db *gorm.DB, logger *logrus.Logger) *CaseNumberGenerator {
	if db == nil {
		db = config.GetDB()
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	return &CaseNumberGenerator{db: db, logger: logger}
}

func FormatCaseNumber(day string, seq int64) string {
	return fmt.Sprintf("%s-%s-%04d", caseNumberPrefix, day, seq)
}

func (g *CaseNumberGenerator) Next(ctx context.Context, at time.Time) (string, error) {
	day := at.UTC().Format("20060102")

	if config.GetRedisDB() != nil {
		seq, err := g.nextFromRedis(ctx, day)
		if err == nil {
			return FormatCaseNumber(day, seq), nil
		}
		config.LogError(g.logger, "models/caseNumber.go", "Next", "redis counter unavailable, falling back to database", day, err)
	}

	last, err := g.lastSequence(ctx, day)
	if err != nil {
		return "", err
	}
	return FormatCaseNumber(day, last+1), nil
}

func (g *CaseNumberGenerator) nextFromRedis(ctx context.Context, day string) (int64, error) {
	key := caseNumberKeyPrefix + day
	seq, err := config.GetRedisCounter(ctx, key, caseNumberKeyTTL)
	if err != nil {
		return 0, err
	}
	if seq != 1 {
		return seq, nil
	}

	// fresh key: catch up with numbers issued before the key existed
	last, err := g.lastSequence(ctx, day)
	if err != nil {
		return 0, err
	}
	if last < seq {
		return seq, nil
	}
	if err := config.SeedRedisCounter(ctx, key, last, caseNumberKeyTTL); err != nil {
		return 0, err
	}
	return config.GetRedisCounter(ctx, key, caseNumberKeyTTL)
}

func (g *CaseNumberGenerator) lastSequence(ctx context.Context, day string) (int64, error) {
	prefix := fmt.Sprintf("%s-%s-", caseNumberPrefix, day)
	var last string
	err := g.db.WithContext(ctx).Model(&AfterSalesCase{}).
		Where("case_number LIKE ?", prefix+"%").
		Select("COALESCE(MAX(case_number), '')").
		Scan(&last).Error
	if err != nil {
		return 0, err
	}
	return parseCaseSequence(prefix, last), nil
}

func parseCaseSequence(prefix, number string) int64 {
	if !strings.HasPrefix(number, prefix) {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(number, prefix), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
