package httpadapter

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// sseStream frames server-sent events and flushes after each one.
type sseStream struct {
	w   io.Writer
	rc  *http.ResponseController
	seq int
}

func (s *sseStream) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseStream) event(evt domain.ProgressEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	s.seq++
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", s.seq, evt.Kind, payload); err != nil {
		return err
	}
	return s.rc.Flush()
}

// queueProgress streams queue progress until the client disconnects or the
// broadcaster shuts down. Comment heartbeats keep idle proxies from closing
// the connection.
func (rt *Router) queueProgress(w http.ResponseWriter, r *http.Request) {
	if rt.progress == nil {
		writeUnavailable(w, "progress")
		return
	}
	events, unsubscribe := rt.progress.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &sseStream{w: w, rc: http.NewResponseController(w)}
	if err := stream.comment("connected"); err != nil {
		rt.logger.Warn("progress_stream_unsupported", "error", err)
		return
	}

	heartbeat := time.NewTicker(cmp.Or(rt.heartbeat, defaultHeartbeat))
	defer heartbeat.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-events:
			if !open {
				return
			}
			err = stream.event(evt)
		case <-heartbeat.C:
			err = stream.comment("heartbeat")
		}
		if err != nil {
			return
		}
	}
}
