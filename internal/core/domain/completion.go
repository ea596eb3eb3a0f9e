package domain

import "time"

type TaskKind string

const (
	TaskDocument   TaskKind = "document"
	TaskPage       TaskKind = "page"
	TaskTable      TaskKind = "table"
	TaskClassify   TaskKind = "classify"
	TaskTranscribe TaskKind = "transcribe"
)

func (k TaskKind) Valid() bool {
	switch k {
	case TaskDocument, TaskPage, TaskTable, TaskClassify, TaskTranscribe:
		return true
	default:
		return false
	}
}

// CompletionRequest carries either Text or Data (with MimeType), never both.
type CompletionRequest struct {
	RequestID   string
	Kind        TaskKind
	System      string
	Instruction string
	Text        string
	Data        []byte
	MimeType    string
	JSON        bool
}

func (r CompletionRequest) HasBinary() bool {
	return len(r.Data) > 0
}

type ProgressKind string

const (
	ProgressTickStarted       ProgressKind = "tick_started"
	ProgressDocumentStarted   ProgressKind = "document_started"
	ProgressDocumentCompleted ProgressKind = "document_completed"
	ProgressDocumentFailed    ProgressKind = "document_failed"
	ProgressTickFinished      ProgressKind = "tick_finished"
)

type ProgressEvent struct {
	Kind       ProgressKind `json:"kind"`
	DocumentID string       `json:"document_id,omitempty"`
	Filename   string       `json:"filename,omitempty"`
	Index      int          `json:"index,omitempty"`
	Total      int          `json:"total,omitempty"`
	Result     *TickResult  `json:"result,omitempty"`
	At         time.Time    `json:"at"`
}
