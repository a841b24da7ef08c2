package transfer

import (
	"encoding/json"

	"github.com/impulsar/lib-aru/aru/balance"
)

// EventKind names a notification.
type EventKind string

const (
	KindTransfer EventKind = "transfer"
	KindBatch    EventKind = "batch"
)

// Event is a notification emitted after a successful commit.
type Event interface {
	Kind() EventKind
}

// TransferEvent records one committed transfer.
type TransferEvent struct {
	Source      balance.AccountID `json:"source"`
	Destination balance.AccountID `json:"destination"`
	Amount      int64             `json:"amount"`
	Timestamp   uint64            `json:"timestamp"`
}

// Kind returns KindTransfer.
func (TransferEvent) Kind() EventKind { return KindTransfer }

// MarshalJSON adds the "kind" discriminator.
func (e TransferEvent) MarshalJSON() ([]byte, error) {
	type fields TransferEvent

	return json.Marshal(struct {
		Kind EventKind `json:"kind"`
		fields
	}{Kind: KindTransfer, fields: fields(e)})
}

// BatchEvent records one committed batch.
type BatchEvent struct {
	Source         balance.AccountID `json:"source"`
	RecipientCount uint32            `json:"recipientCount"`
	TotalAmount    int64             `json:"totalAmount"`
	Timestamp      uint64            `json:"timestamp"`
}

// Kind returns KindBatch.
func (BatchEvent) Kind() EventKind { return KindBatch }

// MarshalJSON adds the "kind" discriminator.
func (e BatchEvent) MarshalJSON() ([]byte, error) {
	type fields BatchEvent

	return json.Marshal(struct {
		Kind EventKind `json:"kind"`
		fields
	}{Kind: KindBatch, fields: fields(e)})
}
