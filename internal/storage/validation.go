package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/hearth/internal/model"
)

// Validation errors.
var (
	ErrNilContext      = errors.New("context cannot be nil")
	ErrEmptyString     = errors.New("string parameter cannot be empty")
	ErrInvalidDocument = errors.New("invalid document")
	ErrIndexesNotReady = errors.New("indexes not created; run Migrate first")
	ErrUnknownField    = errors.New("field is not indexed")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateDocument checks the envelope before it is written.
func validateDocument(doc *model.Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidDocument)
	}
	if strings.HasPrefix(doc.ID, "_") {
		return fmt.Errorf("%w: id %q may not start with an underscore", ErrInvalidDocument, doc.ID)
	}
	if len(doc.Body) == 0 {
		return fmt.Errorf("%w: missing body", ErrInvalidDocument)
	}
	if !json.Valid(doc.Body) {
		return fmt.Errorf("%w: body is not valid JSON", ErrInvalidDocument)
	}
	return nil
}
