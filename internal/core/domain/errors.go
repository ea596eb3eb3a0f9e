package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Adapters wrap concrete failures with WrapError so callers can
// branch on the kind with errors.Is and the HTTP layer can pick a status.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")

	ErrUnsupportedType    = errors.New("unsupported file type")
	ErrExtraction         = errors.New("extraction failed")
	ErrEmptyText          = errors.New("empty extracted text")
	ErrNoSupportedContent = errors.New("no supported content")
	ErrEmptyMerge         = errors.New("nothing to merge")
	ErrAlreadyRunning     = errors.New("queue processing already running")
	ErrInvalidTransition  = errors.New("invalid status transition")
)

var kindNames = []struct {
	kind error
	name string
}{
	{ErrDocumentNotFound, "not_found"},
	{ErrInvalidInput, "invalid_input"},
	{ErrUnauthorized, "unauthorized"},
	{ErrUnsupportedType, "unsupported_type"},
	{ErrEmptyText, "empty_text"},
	{ErrNoSupportedContent, "no_supported_content"},
	{ErrEmptyMerge, "empty_merge"},
	{ErrExtraction, "extraction"},
	{ErrAlreadyRunning, "already_running"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrTemporary, "temporary"},
}

// WrapError returns "operation: kind: err", matching both kind and err.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// KindName is a stable log label for err: the first matching kind, or
// "internal".
func KindName(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "internal"
}
