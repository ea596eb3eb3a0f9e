package nats

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// documentQueued is the wire format of a wake-up event. It carries no
// document state; the worker always re-reads the store.
type documentQueued struct {
	DocumentID string    `json:"document_id"`
	QueuedAt   time.Time `json:"queued_at"`
}

func encodeEvent(documentID string, at time.Time) ([]byte, error) {
	return json.Marshal(documentQueued{DocumentID: documentID, QueuedAt: at.UTC()})
}

var errMalformedEvent = errors.New("empty or malformed document queued event")

// decodeEvent also accepts a bare document id, as published by older
// producers and by hand with `nats pub`.
func decodeEvent(data []byte) (documentQueued, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var evt documentQueued
		if err := json.Unmarshal(data, &evt); err != nil || evt.DocumentID == "" {
			return documentQueued{}, errMalformedEvent
		}
		return evt, nil
	}
	if trimmed == "" || strings.ContainsAny(trimmed, "{}\" ") {
		return documentQueued{}, errMalformedEvent
	}
	return documentQueued{DocumentID: trimmed}, nil
}
