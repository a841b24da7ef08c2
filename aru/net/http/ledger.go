package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/impulsar/lib-aru/aru"
	"github.com/impulsar/lib-aru/aru/balance"
	alog "github.com/impulsar/lib-aru/aru/log"
	"github.com/impulsar/lib-aru/aru/notify"
	"github.com/impulsar/lib-aru/aru/transfer"
)

// MaxAccountIDLength bounds account ids accepted on the wire.
const MaxAccountIDLength = 256

// TransferPayload is the body of POST /v1/accounts/:account/transfers.
type TransferPayload struct {
	Destination string `json:"destination" validate:"max=256"`
	Amount      int64  `json:"amount"`
}

// RecipientPayload is one entry of a batch body.
type RecipientPayload struct {
	Destination string `json:"destination" validate:"max=256"`
	Amount      int64  `json:"amount"`
}

// BatchTransferPayload is the body of POST /v1/accounts/:account/batch-transfers.
type BatchTransferPayload struct {
	Recipients []RecipientPayload `json:"recipients" validate:"dive"`
}

// TransferResponse lists the events of a committed transfer.
type TransferResponse struct {
	Events []transfer.Event `json:"events"`
}

// BatchTransferResponse reports how many recipients a batch paid.
type BatchTransferResponse struct {
	Count  uint32           `json:"count"`
	Events []transfer.Event `json:"events"`
}

// BalanceResponse is the body of GET /v1/accounts/:account/balance.
type BalanceResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

type accountParam struct {
	Account string `validate:"max=256"`
}

// LedgerHandler exposes a transfer.Engine over HTTP and hands committed
// events to a notify.Registry.
type LedgerHandler struct {
	engine *transfer.Engine
	events *notify.Registry
	logger alog.Logger
}

// NewLedgerHandler returns a handler for engine. events may be nil, in which
// case events are only returned to the caller.
func NewLedgerHandler(engine *transfer.Engine, events *notify.Registry, logger alog.Logger) *LedgerHandler {
	if logger == nil {
		logger = alog.NewNop()
	}

	return &LedgerHandler{engine: engine, events: events, logger: logger}
}

// Register mounts the ledger routes on router. Mutating routes require a
// bearer token accepted by verifier; reading a balance does not.
func (h *LedgerHandler) Register(router fiber.Router, verifier TokenVerifier) {
	accounts := router.Group("/v1/accounts/:account")

	accounts.Get("/balance", h.GetBalance)
	accounts.Post("/transfers", WithBearerAuth(verifier), h.Transfer)
	accounts.Post("/batch-transfers", WithBearerAuth(verifier), h.BatchTransfer)
}

// Transfer handles POST /v1/accounts/:account/transfers.
func (h *LedgerHandler) Transfer(c *fiber.Ctx) error {
	source, err := sourceAccount(c)
	if err != nil {
		return RenderError(c, err)
	}

	var payload TransferPayload
	if err := ParseBodyAndValidate(c, &payload); err != nil {
		return RenderError(c, err)
	}

	ctx := c.UserContext()

	receipt, err := h.engine.Transfer(ctx, IdentityFrom(c), transfer.Request{
		Source:      source,
		Destination: balance.AccountID(payload.Destination),
		Amount:      payload.Amount,
	})
	if err != nil {
		return RenderError(c, err)
	}

	h.dispatch(c, receipt.Events)

	return OK(c, TransferResponse{Events: nonNil(receipt.Events)})
}

// BatchTransfer handles POST /v1/accounts/:account/batch-transfers.
func (h *LedgerHandler) BatchTransfer(c *fiber.Ctx) error {
	source, err := sourceAccount(c)
	if err != nil {
		return RenderError(c, err)
	}

	var payload BatchTransferPayload
	if err := ParseBodyAndValidate(c, &payload); err != nil {
		return RenderError(c, err)
	}

	recipients := make([]transfer.Recipient, 0, len(payload.Recipients))
	for _, r := range payload.Recipients {
		recipients = append(recipients, transfer.Recipient{
			Destination: balance.AccountID(r.Destination),
			Amount:      r.Amount,
		})
	}

	receipt, err := h.engine.BatchTransfer(c.UserContext(), IdentityFrom(c), transfer.BatchRequest{
		Source:     source,
		Recipients: recipients,
	})
	if err != nil {
		return RenderError(c, err)
	}

	h.dispatch(c, receipt.Events)

	return OK(c, BatchTransferResponse{Count: receipt.Count, Events: nonNil(receipt.Events)})
}

// GetBalance handles GET /v1/accounts/:account/balance.
func (h *LedgerHandler) GetBalance(c *fiber.Ctx) error {
	account, err := sourceAccount(c)
	if err != nil {
		return RenderError(c, err)
	}

	value, err := h.engine.Balance(c.UserContext(), account)
	if err != nil {
		return RenderError(c, err)
	}

	return OK(c, BalanceResponse{Account: string(account), Balance: value})
}

// dispatch hands events to the registry. The transfer is already committed,
// so a failing handler is logged and never changes the response.
func (h *LedgerHandler) dispatch(c *fiber.Ctx, events []transfer.Event) {
	if h.events == nil || len(events) == 0 {
		return
	}

	ctx := c.UserContext()

	if err := h.events.Dispatch(ctx, events...); err != nil {
		logger := h.logger.With(alog.String("request_id", aru.RequestIDFromContext(ctx)))
		logger.Log(ctx, alog.LevelWarn, "event dispatch failed",
			alog.Int("events", len(events)),
			alog.Err(err),
		)
	}
}

func sourceAccount(c *fiber.Ctx) (balance.AccountID, error) {
	param := accountParam{Account: c.Params("account")}
	if err := ValidateStruct(param); err != nil {
		return "", err
	}

	return balance.AccountID(param.Account), nil
}

func nonNil(events []transfer.Event) []transfer.Event {
	if events == nil {
		return []transfer.Event{}
	}

	return events
}
