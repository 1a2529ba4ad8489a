package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// queueClient decouples the projector from its transport: an in-memory
// channel in development, SQS in production.
type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type queuePayload struct {
	ID       string   `json:"id"`
	Snapshot Snapshot `json:"snapshot"`
}

func encodePayload(snap Snapshot) (string, error) {
	body, err := json.Marshal(queuePayload{ID: uuid.NewString(), Snapshot: snap})
	if err != nil {
		return "", fmt.Errorf("index: failed to encode snapshot: %w", err)
	}
	return string(body), nil
}

func decodePayload(body string) (Snapshot, error) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return Snapshot{}, fmt.Errorf("index: failed to decode snapshot: %w", err)
	}
	return payload.Snapshot, nil
}
