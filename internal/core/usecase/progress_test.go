package usecase

import (
	"testing"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

func TestProgressSlowSubscriberDropsEvents(t *testing.T) {
	b := NewProgressBroadcaster()
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for i := 0; i < progressBuffer*2; i++ {
		b.Publish(domain.ProgressEvent{Kind: domain.ProgressDocumentStarted, Index: i})
	}
	if got := len(events); got != progressBuffer {
		t.Fatalf("expected buffer to hold %d events, got %d", progressBuffer, got)
	}
	first := <-events
	if first.Index != 0 || first.At.IsZero() {
		t.Fatalf("expected oldest event with timestamp, got %+v", first)
	}
}

func TestProgressUnsubscribeClosesChannel(t *testing.T) {
	b := NewProgressBroadcaster()
	events, unsubscribe := b.Subscribe()
	unsubscribe()
	unsubscribe()

	if _, ok := <-events; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
	b.Publish(domain.ProgressEvent{Kind: domain.ProgressTickStarted})
}

func TestProgressCloseEndsSubscriptions(t *testing.T) {
	b := NewProgressBroadcaster()
	events, unsubscribe := b.Subscribe()
	b.Close()
	unsubscribe()

	if _, ok := <-events; ok {
		t.Fatalf("expected closed channel after Close")
	}
	late, _ := b.Subscribe()
	if _, ok := <-late; ok {
		t.Fatalf("expected subscriptions after Close to be closed immediately")
	}
}
