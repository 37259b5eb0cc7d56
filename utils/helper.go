package utils

import (
	"errors"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// GenerateObjectKey builds "<prefix>/<uuid><ext>" with the original extension lowercased.
func GenerateObjectKey(prefix, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return path.Join(strings.Trim(prefix, "/"), uuid.NewString()+ext)
}

func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		errorResponse["body"] = err.Error()
		return errorResponse
	}

	for _, ve := range validationErrors {
		errorResponse[LowercaseFirst(ve.Field())] = ve.Tag()
	}

	return errorResponse
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	var zero T
	if len(defaults) > 0 {
		return defaults[0]
	}
	return zero
}

func LowercaseFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
