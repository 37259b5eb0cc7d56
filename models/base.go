package models

import (
	"context"

	"bitbucket.org/mmdatafocus/aftersales_backend/utils"
	"github.com/google/uuid"
)

func correlationIdFromContext(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
