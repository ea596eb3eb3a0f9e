package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusQueued     DocumentStatus = "queued"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// documentTransitions is the only place status moves are defined.
// failed -> queued is the manual re-queue edge.
var documentTransitions = map[DocumentStatus][]DocumentStatus{
	StatusPending:    {StatusQueued, StatusProcessing},
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusQueued},
	StatusCompleted:  nil,
}

func (s DocumentStatus) Valid() bool {
	_, ok := documentTransitions[s]
	return ok
}

func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	for _, allowed := range documentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PredecessorsOf lists the states that may move into next.
func PredecessorsOf(next DocumentStatus) []DocumentStatus {
	out := make([]DocumentStatus, 0, 2)
	for _, from := range []DocumentStatus{StatusPending, StatusQueued, StatusProcessing, StatusFailed, StatusCompleted} {
		if from.CanTransitionTo(next) {
			out = append(out, from)
		}
	}
	return out
}

func ValidateTransition(from, to DocumentStatus) error {
	if !from.CanTransitionTo(to) {
		return WrapError(ErrInvalidTransition, "status transition", fmt.Errorf("%s -> %s", from, to))
	}
	return nil
}

type SourceType string

const (
	SourceUpload   SourceType = "upload"
	SourceDownload SourceType = "download"
	SourceContent  SourceType = "content"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceUpload, SourceDownload, SourceContent:
		return true
	default:
		return false
	}
}

type Document struct {
	ID             string          `json:"id"`
	SourceType     SourceType      `json:"source_type"`
	Filename       string          `json:"filename"`
	FileReference  string          `json:"file_reference,omitempty"`
	StorageURL     string          `json:"storage_url,omitempty"`
	ContentText    string          `json:"content_text,omitempty"`
	Status         DocumentStatus  `json:"status"`
	ExtractedText  *string         `json:"extracted_text,omitempty"`
	OCRResult      *OCRResult      `json:"ocr_result,omitempty"`
	AnalysisResult json.RawMessage `json:"analysis_result,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type OCRResult struct {
	Applied       bool   `json:"applied"`
	Method        string `json:"method"`
	OriginalChars int    `json:"original_chars"`
	OCRChars      int    `json:"ocr_chars"`
	Pages         int    `json:"pages,omitempty"`
}

// ProcessResult is what one document run produces. Analysis is nil when
// structuring degraded but text extraction succeeded.
type ProcessResult struct {
	Text     string         `json:"text"`
	OCR      *OCRResult     `json:"ocr"`
	Analysis map[string]any `json:"analysis"`
}

type FileAnalysis struct {
	Success    bool           `json:"success"`
	TotalPages int            `json:"total_pages"`
	Analysis   map[string]any `json:"analysis"`
	SourceKind string         `json:"source_kind"`
}

type StatusCount struct {
	Status     DocumentStatus
	SourceType SourceType
	Count      int
}

type QueueStatus struct {
	Pending      int            `json:"pending"`
	Queued       int            `json:"queued"`
	Processing   int            `json:"processing"`
	BySourceType map[string]int `json:"by_source_type"`
	IsProcessing bool           `json:"is_processing"`
	TotalInQueue int            `json:"total_in_queue"`
}

type TickResult struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
