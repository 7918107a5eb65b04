// Package notification moves return status changes from the event stream
// to the customer's inbox. The API publishes fire-and-forget; this
// consumer does the slow work.
package notification

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/retail-backoffice/internal/email"
	"github.com/example/retail-backoffice/internal/events"
	"github.com/example/retail-backoffice/internal/rma"
)

// KindStatusChange tags return status messages on the shared topic so
// consumers can skip audit entries and other payloads.
const KindStatusChange = "rma_status_change"

// StatusMessage is the wire envelope for a return status change.
type StatusMessage struct {
	Kind string `json:"kind"`
	rma.StatusChange
}

// KafkaNotifier publishes status changes for the notifier service to pick
// up. It satisfies the workflow engine's notifier contract.
type KafkaNotifier struct {
	publisher events.Publisher
}

func NewKafkaNotifier(publisher events.Publisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher}
}

func (n *KafkaNotifier) NotifyStatusChange(ctx context.Context, change rma.StatusChange) error {
	return n.publisher.Publish(ctx, change.RMAID, StatusMessage{
		Kind:         KindStatusChange,
		StatusChange: change,
	})
}

// Directory resolves customer contact details.
type Directory interface {
	Email(ctx context.Context, customerID string) (string, error)
}

// Sender delivers a rendered status update.
type Sender interface {
	SendReturnStatusUpdate(to string, u email.StatusUpdate) error
}

// Handler consumes the event stream and emails status updates.
type Handler struct {
	sender    Sender
	directory Directory
}

func NewHandler(sender Sender, directory Directory) *Handler {
	return &Handler{
		sender:    sender,
		directory: directory,
	}
}

// HandleEvent processes one message from the stream. Messages that are
// not status changes are ignored. Errors resolving the customer are
// logged and swallowed so one bad record does not stall the consumer.
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(value, &probe); err != nil || probe.Kind != KindStatusChange {
		return nil
	}

	var msg StatusMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		log.Printf("[Notifier] Failed to unmarshal status change: %v", err)
		return err
	}

	to, err := h.directory.Email(ctx, msg.CustomerID)
	if err != nil {
		log.Printf("[Notifier] No contact for customer %s: %v", msg.CustomerID, err)
		return nil
	}

	update := email.StatusUpdate{
		RMAID:       msg.RMAID,
		RMANumber:   msg.RMANumber,
		OldStatus:   string(msg.OldStatus),
		NewStatus:   string(msg.NewStatus),
		Disposition: string(msg.Disposition),
	}
	if err := h.sender.SendReturnStatusUpdate(to, update); err != nil {
		log.Printf("[Notifier] Failed to send email to %s: %v", to, err)
		return err
	}

	log.Printf("[Notifier] Status update sent to %s for return %s (%s)", to, msg.RMAID, msg.NewStatus)
	return nil
}
