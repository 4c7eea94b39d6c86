package memory

import (
	"context"
	"testing"
)

func TestPublisherRecordsMessages(t *testing.T) {
	pub := New()
	ctx := context.Background()

	id, err := pub.Publish(ctx, "flushes", map[string]string{"run": "a"})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if id != "memory-1" {
		t.Errorf("unexpected id %q", id)
	}

	if _, err := pub.Publish(ctx, "flushes", map[string]string{"run": "b"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	messages := pub.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Topic != "flushes" {
		t.Errorf("unexpected topic %q", messages[0].Topic)
	}
}
