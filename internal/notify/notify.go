// Package notify carries OTP codes to students. Delivery is best-effort and
// asynchronous; the protocol never waits on it.
package notify

import (
	"context"
	"encoding/json"

	"rollcall/internal/queue"
)

// MessageType tags OTP delivery work on the queue.
const MessageType = "otp"

// Delivery is the queue payload handed to the worker.
type Delivery struct {
	StudentID string `json:"student_id"`
	Code      string `json:"code"`
	ExpiresIn string `json:"expires_in"`
}

// Notifier hands a (student, code) pair to the delivery path.
type Notifier interface {
	Send(ctx context.Context, d Delivery) error
}

// QueueNotifier publishes deliveries to a queue; a worker drains it and mails
// the code. Publishing is the only coupling between the protocol and delivery.
type QueueNotifier struct {
	q queue.Queue
}

// NewQueueNotifier creates a queue-backed notifier.
func NewQueueNotifier(q queue.Queue) *QueueNotifier {
	return &QueueNotifier{q: q}
}

// Send enqueues the delivery.
func (n *QueueNotifier) Send(ctx context.Context, d Delivery) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return n.q.Publish(ctx, queue.Message{Type: MessageType, Body: raw})
}
