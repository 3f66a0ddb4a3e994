// Package delivery sends keepsake content to a single recipient over an
// outbound transport. Every failure is tagged transient or permanent so the
// processor can decide whether a later run should try again.
package delivery

import (
	"context"

	"github.com/google/uuid"

	"github.com/samims/keepsake/internal/model"
)

// idempotencyNamespace scopes recipient idempotency keys to this service.
var idempotencyNamespace = uuid.MustParse("6f1c8d52-4c1e-4f0a-9a59-0d3b0c6e2a71")

// Message is one recipient's copy of a keepsake.
type Message struct {
	To             string
	Name           string
	Subject        string
	Body           string
	IdempotencyKey uuid.UUID
}

// Channel is an outbound transport invoked once per recipient.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
	Ping(ctx context.Context) error
}

// IdempotencyKey is stable for a keepsake/recipient pair across runs, so a
// provider that honours it drops the duplicate left by a crash between send
// and status write.
func IdempotencyKey(keepsakeID, recipientID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(idempotencyNamespace, []byte(keepsakeID.String()+":"+recipientID.String()))
}

// NewMessage builds the message for one recipient of k.
func NewMessage(k model.Keepsake, r model.Recipient, address string) Message {
	return Message{
		To:             address,
		Name:           r.DisplayName,
		Subject:        k.Title,
		Body:           k.MessageBody,
		IdempotencyKey: IdempotencyKey(k.ID, r.ID),
	}
}
