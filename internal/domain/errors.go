package domain

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrProtectedMetadata   = errors.New("protected metadata key")
	ErrDuplicateHash       = errors.New("duplicate content hash")
	ErrEmptyExtraction     = errors.New("text extraction produced no content")
	ErrEmbeddingFailed     = errors.New("embedding generation failed")
	ErrEmbeddingOverflow   = errors.New("embedding input too large")
	ErrExtractionFailed    = errors.New("metadata extraction failed")
	ErrFilterParse         = errors.New("invalid filter expression")
	ErrNotFound            = errors.New("document not found")
	ErrStoreFailed         = errors.New("metadata store operation failed")
	ErrBlobFailed          = errors.New("blob store operation failed")
	ErrRerankerUnavailable = errors.New("reranker unavailable")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidInput        = errors.New("invalid input")
)

// protectedMetadataKeys are system-owned; user metadata carrying any of
// them is rejected at ingest.
var protectedMetadataKeys = map[string]struct{}{
	"uploaded_by":       {},
	"uploaded_at":       {},
	"uploaded_via":      {},
	"doc_id":            {},
	"doc_uuid":          {},
	"filename":          {},
	"original_filename": {},
	"file_type":         {},
	"file_size":         {},
	"file_hash":         {},
	"content_hash":      {},
	"chunk_count":       {},
	"created_at":        {},
	"updated_at":        {},
	"deleted_at":        {},
	"version":           {},
}

// ValidateUserMetadata returns ErrProtectedMetadata naming every offending
// key, or nil when the map is clean.
func ValidateUserMetadata(metadata map[string]interface{}) error {
	var offenders []string
	for key := range metadata {
		if _, protected := protectedMetadataKeys[key]; protected {
			offenders = append(offenders, key)
		}
	}
	if len(offenders) == 0 {
		return nil
	}
	sort.Strings(offenders)
	return fmt.Errorf("%w: %v are system-assigned and cannot be set by the caller", ErrProtectedMetadata, offenders)
}
