package transfer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/impulsar/lib-aru/aru"
	"github.com/impulsar/lib-aru/aru/assert"
	"github.com/impulsar/lib-aru/aru/auth"
	"github.com/impulsar/lib-aru/aru/balance"
	"github.com/impulsar/lib-aru/aru/internal/nilcheck"
	alog "github.com/impulsar/lib-aru/aru/log"
	"github.com/impulsar/lib-aru/aru/opentelemetry"
	"github.com/impulsar/lib-aru/aru/opentelemetry/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MaxBatchSize is the largest number of recipients a batch may carry.
const MaxBatchSize = 100

const (
	opTransfer = "transfer"
	opBatch    = "batch_transfer"
)

// ErrStoreFault wraps every failure of the balance store. It is never a DomainError.
var ErrStoreFault = errors.New("balance store failure")

// Request moves Amount units from Source to Destination.
type Request struct {
	Source      balance.AccountID
	Destination balance.AccountID
	Amount      int64
}

// Recipient is one entry of a batch.
type Recipient struct {
	Destination balance.AccountID
	Amount      int64
}

// BatchRequest pays every recipient from Source in one atomic unit.
type BatchRequest struct {
	Source     balance.AccountID
	Recipients []Recipient
}

// Receipt is the outcome of a committed transfer. A self-transfer commits
// nothing and carries no events.
type Receipt struct {
	Events []Event
}

// BatchReceipt is the outcome of a committed batch.
type BatchReceipt struct {
	Count  uint32
	Events []Event
}

// Engine validates and executes transfers against a balance store. It keeps
// no state of its own, so one Engine may serve any number of goroutines.
type Engine struct {
	store     balance.Store
	authorize auth.Authorizer
	clock     Clock
	logger    alog.Logger
	tracer    trace.Tracer
	metrics   *metrics.Factory
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuthorizer replaces auth.SameAccount as the capability check.
func WithAuthorizer(authorize auth.Authorizer) Option {
	return func(e *Engine) {
		if authorize != nil {
			e.authorize = authorize
		}
	}
}

// WithClock sets the clock used for event timestamps.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if !nilcheck.Interface(clock) {
			e.clock = clock
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger alog.Logger) Option {
	return func(e *Engine) {
		if !nilcheck.Interface(logger) {
			e.logger = logger
		}
	}
}

// WithTracer sets the engine tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if !nilcheck.Interface(tracer) {
			e.tracer = tracer
		}
	}
}

// WithMetrics sets the factory that records ledger metrics.
func WithMetrics(factory *metrics.Factory) Option {
	return func(e *Engine) {
		if factory != nil {
			e.metrics = factory
		}
	}
}

// NewEngine returns an Engine over store.
func NewEngine(store balance.Store, opts ...Option) (*Engine, error) {
	if nilcheck.Interface(store) {
		return nil, balance.ErrNilStore
	}

	e := &Engine{
		store:     store,
		authorize: auth.SameAccount,
		clock:     SystemClock{},
		logger:    alog.NewNop(),
		tracer:    otel.Tracer("aru.transfer"),
		metrics:   metrics.NewNopFactory(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	return e, nil
}

// Balance returns the balance of account, or 0 if it was never written.
func (e *Engine) Balance(ctx context.Context, account balance.AccountID) (int64, error) {
	ctx, span := e.tracer.Start(ctx, "transfer.get_balance", trace.WithAttributes(
		attribute.String("aru.account", account.String()),
	))
	defer span.End()

	if account == "" {
		return 0, NewDomainError(ErrorInvalidAccount, "account", "account id is required")
	}

	value, err := e.store.Get(ctx, account)
	if err != nil {
		opentelemetry.HandleSpanError(&span, "failed to read balance", err)

		return 0, fmt.Errorf("%w: %w", ErrStoreFault, err)
	}

	return value, nil
}

// Transfer moves req.Amount from req.Source to req.Destination on behalf of
// caller. Checks run in order: authorization, amount, account ids, funds.
// Nothing is written unless every check passes.
func (e *Engine) Transfer(ctx context.Context, caller auth.Identity, req Request) (Receipt, error) {
	ctx, span := e.tracer.Start(ctx, "transfer.transfer", trace.WithAttributes(
		attribute.String("aru.source", req.Source.String()),
		attribute.String("aru.destination", req.Destination.String()),
		attribute.Int64("aru.amount", req.Amount),
	))
	defer span.End()

	if err := e.validateTransfer(caller, req); err != nil {
		return Receipt{}, e.reject(ctx, &span, opTransfer, err)
	}

	self := req.Source == req.Destination

	err := e.store.Update(ctx, []balance.AccountID{req.Source, req.Destination}, func(ctx context.Context, tx balance.Tx) error {
		l := newLedger(tx)

		available, err := l.Get(ctx, req.Source)
		if err != nil {
			return err
		}

		if available < req.Amount {
			return insufficientFunds(available, req.Amount)
		}

		if self {
			return nil
		}

		current, err := l.Get(ctx, req.Destination)
		if err != nil {
			return err
		}

		credited, ok := addUnits(current, req.Amount)
		if !ok {
			return NewDomainError(ErrorBalanceOverflow, "destination", fmt.Sprintf("crediting %d overflows the balance of %s", req.Amount, req.Destination))
		}

		if err := l.Set(ctx, req.Source, available-req.Amount); err != nil {
			return err
		}

		if err := l.Set(ctx, req.Destination, credited); err != nil {
			return err
		}

		return e.verify(ctx, opTransfer, l)
	})
	if err != nil {
		return Receipt{}, e.fail(ctx, &span, opTransfer, err)
	}

	logger := e.loggerFor(ctx)

	if self {
		logger.Log(ctx, alog.LevelDebug, "self transfer accepted without changes",
			alog.String("account", req.Source.String()),
			alog.Int64("amount", req.Amount),
		)

		return Receipt{}, nil
	}

	event := TransferEvent{
		Source:      req.Source,
		Destination: req.Destination,
		Amount:      req.Amount,
		Timestamp:   e.clock.Now(),
	}

	if mErr := e.metrics.RecordTransfer(ctx, req.Amount); mErr != nil {
		logger.Log(ctx, alog.LevelWarn, "failed to record transfer metrics", alog.Err(mErr))
	}

	logger.Log(ctx, alog.LevelInfo, "transfer committed",
		alog.String("source", req.Source.String()),
		alog.String("destination", req.Destination.String()),
		alog.Int64("amount", req.Amount),
	)

	return Receipt{Events: []Event{event}}, nil
}

// BatchTransfer pays every recipient of req from req.Source on behalf of
// caller. Checks run in order: authorization, batch size, amounts, account
// ids, funds. Recipients are credited in order, so a destination listed
// twice receives both amounts, and the source is debited once by the total.
func (e *Engine) BatchTransfer(ctx context.Context, caller auth.Identity, req BatchRequest) (BatchReceipt, error) {
	ctx, span := e.tracer.Start(ctx, "transfer.batch_transfer", trace.WithAttributes(
		attribute.String("aru.source", req.Source.String()),
		attribute.Int("aru.recipients", len(req.Recipients)),
	))
	defer span.End()

	total, err := e.validateBatch(caller, req)
	if err != nil {
		return BatchReceipt{}, e.reject(ctx, &span, opBatch, err)
	}

	accounts := make([]balance.AccountID, 0, len(req.Recipients)+1)
	accounts = append(accounts, req.Source)

	for _, r := range req.Recipients {
		accounts = append(accounts, r.Destination)
	}

	err = e.store.Update(ctx, accounts, func(ctx context.Context, tx balance.Tx) error {
		l := newLedger(tx)

		available, err := l.Get(ctx, req.Source)
		if err != nil {
			return err
		}

		if available < total {
			return insufficientFunds(available, total)
		}

		for i, r := range req.Recipients {
			current, err := l.Get(ctx, r.Destination)
			if err != nil {
				return err
			}

			credited, ok := addUnits(current, r.Amount)
			if !ok {
				return NewDomainError(ErrorBalanceOverflow, fmt.Sprintf("recipients[%d].destination", i),
					fmt.Sprintf("crediting %d overflows the balance of %s", r.Amount, r.Destination))
			}

			if err := l.Set(ctx, r.Destination, credited); err != nil {
				return err
			}
		}

		if total > 0 {
			// Read again: the source may also have been a recipient.
			current, err := l.Get(ctx, req.Source)
			if err != nil {
				return err
			}

			if err := l.Set(ctx, req.Source, current-total); err != nil {
				return err
			}
		}

		return e.verify(ctx, opBatch, l)
	})
	if err != nil {
		return BatchReceipt{}, e.fail(ctx, &span, opBatch, err)
	}

	count := uint32(len(req.Recipients)) //nolint:gosec // bounded by MaxBatchSize
	event := BatchEvent{
		Source:         req.Source,
		RecipientCount: count,
		TotalAmount:    total,
		Timestamp:      e.clock.Now(),
	}

	logger := e.loggerFor(ctx)

	if mErr := e.metrics.RecordBatch(ctx, len(req.Recipients), total); mErr != nil {
		logger.Log(ctx, alog.LevelWarn, "failed to record batch metrics", alog.Err(mErr))
	}

	logger.Log(ctx, alog.LevelInfo, "batch transfer committed",
		alog.String("source", req.Source.String()),
		alog.Int("recipients", len(req.Recipients)),
		alog.Int64("total", total),
	)

	return BatchReceipt{Count: count, Events: []Event{event}}, nil
}

func (e *Engine) validateTransfer(caller auth.Identity, req Request) error {
	if !e.authorize(caller, req.Source) {
		return NewDomainError(ErrorUnauthorized, "source", "caller may not debit "+req.Source.String())
	}

	if req.Amount <= 0 {
		return NewDomainError(ErrorInvalidAmount, "amount", fmt.Sprintf("amount %d must be positive", req.Amount))
	}

	if req.Source == "" {
		return NewDomainError(ErrorInvalidAccount, "source", "source account id is required")
	}

	if req.Destination == "" {
		return NewDomainError(ErrorInvalidAccount, "destination", "destination account id is required")
	}

	return nil
}

// validateBatch returns the batch total. A total beyond int64 can never be
// funded and fails as insufficient funds.
func (e *Engine) validateBatch(caller auth.Identity, req BatchRequest) (int64, error) {
	if !e.authorize(caller, req.Source) {
		return 0, NewDomainError(ErrorUnauthorized, "source", "caller may not debit "+req.Source.String())
	}

	if len(req.Recipients) > MaxBatchSize {
		return 0, NewDomainError(ErrorBatchTooLarge, "recipients",
			fmt.Sprintf("batch has %d recipients, the limit is %d", len(req.Recipients), MaxBatchSize))
	}

	for i, r := range req.Recipients {
		if r.Amount <= 0 {
			return 0, NewDomainError(ErrorInvalidAmount, fmt.Sprintf("recipients[%d].amount", i),
				fmt.Sprintf("amount %d must be positive", r.Amount))
		}
	}

	if req.Source == "" {
		return 0, NewDomainError(ErrorInvalidAccount, "source", "source account id is required")
	}

	var total int64

	for i, r := range req.Recipients {
		if r.Destination == "" {
			return 0, NewDomainError(ErrorInvalidAccount, fmt.Sprintf("recipients[%d].destination", i),
				"destination account id is required")
		}

		next, ok := addUnits(total, r.Amount)
		if !ok {
			return 0, NewDomainError(ErrorInsufficientFunds, "source", "batch total exceeds any possible balance")
		}

		total = next
	}

	return total, nil
}

// verify checks the committed shape of l before the store applies it.
func (e *Engine) verify(ctx context.Context, operation string, l *ledger) error {
	a := assert.New(e.loggerFor(ctx), "transfer", operation)

	var net int64

	for _, account := range l.order {
		after := l.after[account]
		if err := a.That(ctx, after >= 0, "balance must not be negative", "account", account, "balance", after); err != nil {
			return err
		}

		net += after - l.before[account]
	}

	return a.That(ctx, net == 0, "units must be conserved", "net_delta", net)
}

// reject records a validation failure and returns err unchanged.
func (e *Engine) reject(ctx context.Context, span *trace.Span, operation string, err error) error {
	code := "unknown"

	var de DomainError
	if errors.As(err, &de) {
		code = string(de.Code)
	}

	(*span).SetAttributes(attribute.String("aru.error_code", code))
	opentelemetry.HandleSpanBusinessErrorEvent(span, operation+".rejected", err)

	logger := e.loggerFor(ctx)
	logger.Log(ctx, alog.LevelInfo, operation+" rejected", alog.String("code", code), alog.Err(err))

	if mErr := e.metrics.RecordRejected(ctx, operation, code); mErr != nil {
		logger.Log(ctx, alog.LevelWarn, "failed to record rejection metrics", alog.Err(mErr))
	}

	return err
}

// fail classifies an error returned by the store.
func (e *Engine) fail(ctx context.Context, span *trace.Span, operation string, err error) error {
	var de DomainError
	if errors.As(err, &de) {
		return e.reject(ctx, span, operation, de)
	}

	if errors.Is(err, assert.ErrAssertionFailed) {
		opentelemetry.HandleSpanError(span, operation+" post-condition violated", err)

		return err
	}

	opentelemetry.HandleSpanError(span, "failed to update balances", err)
	e.loggerFor(ctx).Log(ctx, alog.LevelError, operation+" failed", alog.Err(err))

	return fmt.Errorf("%w: %w", ErrStoreFault, err)
}

//nolint:ireturn
func (e *Engine) loggerFor(ctx context.Context) alog.Logger {
	if requestID := aru.RequestIDFromContext(ctx); requestID != "" {
		return e.logger.With(alog.String("request_id", requestID))
	}

	return e.logger
}

func insufficientFunds(available, required int64) error {
	return NewDomainError(ErrorInsufficientFunds, "source", fmt.Sprintf("balance %d cannot cover %d", available, required))
}

// addUnits adds two non-negative amounts, reporting overflow.
func addUnits(a, b int64) (int64, bool) {
	if b > math.MaxInt64-a {
		return 0, false
	}

	return a + b, true
}
