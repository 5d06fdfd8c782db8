package notify

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"rollcall/internal/queue"
)

func TestQueueNotifier_Send(t *testing.T) {
	q := queue.NewInMemory(4)
	n := NewQueueNotifier(q)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	want := Delivery{StudentID: "S-200", Code: "482913", ExpiresIn: "5m0s"}
	if err := n.Send(ctx, want); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Type != MessageType {
			t.Errorf("message type = %q, want %q", msg.Type, MessageType)
		}
		var got Delivery
		if err := json.Unmarshal(msg.Body, &got); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		if got != want {
			t.Errorf("delivery = %+v, want %+v", got, want)
		}
	case <-ctx.Done():
		t.Fatal("no message arrived")
	}
}

func TestOTPBody_ContainsCode(t *testing.T) {
	body := OTPBody("482913", "5m0s")
	if body == "" {
		t.Fatal("empty body")
	}
	for _, want := range []string{"482913", "5m0s"} {
		if !strings.Contains(body, want) {
			t.Errorf("body %q missing %q", body, want)
		}
	}
}
