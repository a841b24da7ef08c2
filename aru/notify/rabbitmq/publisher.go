package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/impulsar/lib-aru/aru"
	"github.com/impulsar/lib-aru/aru/backoff"
	"github.com/impulsar/lib-aru/aru/internal/nilcheck"
	alog "github.com/impulsar/lib-aru/aru/log"
	"github.com/impulsar/lib-aru/aru/notify"
	"github.com/impulsar/lib-aru/aru/opentelemetry"
	"github.com/impulsar/lib-aru/aru/transfer"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
)

// Publisher errors.
var (
	ErrPublisherRequired      = errors.New("event publisher is required")
	ErrChannelRequired        = errors.New("rabbitmq channel is required")
	ErrExchangeRequired       = errors.New("rabbitmq exchange is required")
	ErrEventRequired          = errors.New("event is required")
	ErrConfirmModeUnavailable = errors.New("channel does not support confirm mode")
	ErrPublishNacked          = errors.New("message was nacked by broker")
	ErrConfirmTimeout         = errors.New("confirmation timed out")
	ErrPublisherClosed        = errors.New("publisher is closed")
	// ErrChannelUnavailable is returned while the channel is being replaced.
	ErrChannelUnavailable = errors.New("rabbitmq channel is unavailable")
)

const (
	// DefaultConfirmTimeout is the default timeout for waiting on broker confirmation.
	DefaultConfirmTimeout = 5 * time.Second

	// HeaderRequestID carries the request id of the operation that produced the event.
	HeaderRequestID = "x-request-id"

	// DefaultMaxRecoveryAttempts is the default number of channel recovery attempts.
	DefaultMaxRecoveryAttempts = 10
	// DefaultRecoveryBackoffInitial is the starting delay between recovery attempts.
	DefaultRecoveryBackoffInitial = 1 * time.Second
	// DefaultRecoveryBackoffMax caps the delay between recovery attempts.
	DefaultRecoveryBackoffMax = 30 * time.Second

	confirmChannelBuffer = 256
)

// DefaultRetryPolicy retries a failed publish twice with jittered backoff.
var DefaultRetryPolicy = backoff.Policy{
	Attempts: 3,
	Base:     100 * time.Millisecond,
	Max:      2 * time.Second,
}

// BreakerConfig configures the publisher circuit breaker.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32
}

// DefaultBreakerConfig returns the breaker settings used by NewPublisher.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		Timeout:             30 * time.Second,
		MaxRequests:         3,
	}
}

// HealthState is the channel health of a Publisher.
type HealthState int

const (
	// HealthStateConnected means the publisher holds a usable channel.
	HealthStateConnected HealthState = iota
	// HealthStateReconnecting means the channel was lost and a replacement is
	// being requested.
	HealthStateReconnecting
	// HealthStateDisconnected means the publisher was closed or gave up
	// recovering. Publishes fail with ErrPublisherClosed.
	HealthStateDisconnected
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthStateConnected:
		return "connected"
	case HealthStateReconnecting:
		return "reconnecting"
	case HealthStateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConfirmableChannel defines the AMQP channel operations the publisher needs.
// *amqp.Channel implements it.
type ConfirmableChannel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	PublishWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) error
	Close() error
}

// ChannelProvider returns a new channel to replace one that was lost.
type ChannelProvider func() (ConfirmableChannel, error)

// HealthCallback is called whenever the publisher health changes.
type HealthCallback func(HealthState)

type recoveryConfig struct {
	provider       ChannelProvider
	maxAttempts    int
	backoffInitial time.Duration
	backoffMax     time.Duration
}

// session is one channel in confirm mode. lost is closed once the channel
// must not be used again.
type session struct {
	ch       ConfirmableChannel
	confirms chan amqp.Confirmation
	lost     chan struct{}
	lostOnce sync.Once
}

func (s *session) markLost() {
	s.lostOnce.Do(func() { close(s.lost) })
}

func (s *session) isLost() bool {
	select {
	case <-s.lost:
		return true
	default:
		return false
	}
}

// Publisher sends events to a topic exchange and waits for a broker confirm
// on every message. Publishes are serialized per publisher. With
// WithAutoRecovery a lost channel is replaced in the background.
type Publisher struct {
	exchange       string
	mu             sync.Mutex
	session        *session
	health         HealthState
	shutdown       chan struct{}
	shutdownOnce   sync.Once
	publishMu      sync.Mutex
	logger         alog.Logger
	confirmTimeout time.Duration
	retry          backoff.Policy
	breakerConfig  BreakerConfig
	breaker        *gobreaker.CircuitBreaker
	recovery       *recoveryConfig
	onHealth       HealthCallback
	now            func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets a structured logger for the publisher.
func WithLogger(logger alog.Logger) Option {
	return func(pub *Publisher) {
		if !nilcheck.Interface(logger) {
			pub.logger = logger
		}
	}
}

// WithConfirmTimeout sets the timeout for waiting on broker confirmation.
func WithConfirmTimeout(timeout time.Duration) Option {
	return func(pub *Publisher) {
		if timeout > 0 {
			pub.confirmTimeout = timeout
		}
	}
}

// WithRetryPolicy replaces DefaultRetryPolicy. The Retryable field is
// overridden: closed publishers and an open breaker are never retried.
func WithRetryPolicy(policy backoff.Policy) Option {
	return func(pub *Publisher) {
		pub.retry = policy
	}
}

// WithBreaker replaces DefaultBreakerConfig.
func WithBreaker(cfg BreakerConfig) Option {
	return func(pub *Publisher) {
		if cfg.ConsecutiveFailures > 0 {
			pub.breakerConfig = cfg
		}
	}
}

// WithClock sets the clock stamped on outgoing messages.
func WithClock(now func() time.Time) Option {
	return func(pub *Publisher) {
		if now != nil {
			pub.now = now
		}
	}
}

// WithAutoRecovery replaces a lost channel with one from provider. Without
// it a lost channel disconnects the publisher for good.
func WithAutoRecovery(provider ChannelProvider) Option {
	return func(pub *Publisher) {
		if provider == nil {
			return
		}

		pub.ensureRecovery().provider = provider
	}
}

// WithRecoveryAttempts sets how many replacement channels are requested
// before the publisher gives up.
func WithRecoveryAttempts(attempts int) Option {
	return func(pub *Publisher) {
		if attempts > 0 {
			pub.ensureRecovery().maxAttempts = attempts
		}
	}
}

// WithRecoveryBackoff sets the initial and maximum delay between recovery
// attempts.
func WithRecoveryBackoff(initial, maxDelay time.Duration) Option {
	return func(pub *Publisher) {
		if initial <= 0 || maxDelay < initial {
			pub.logger.Log(context.Background(), alog.LevelWarn, "ignoring invalid recovery backoff",
				alog.Any("initial", initial), alog.Any("max", maxDelay))

			return
		}

		rc := pub.ensureRecovery()
		rc.backoffInitial = initial
		rc.backoffMax = maxDelay
	}
}

// WithHealthCallback registers fn for health changes.
func WithHealthCallback(fn HealthCallback) Option {
	return func(pub *Publisher) {
		pub.onHealth = fn
	}
}

func (pub *Publisher) ensureRecovery() *recoveryConfig {
	if pub.recovery == nil {
		pub.recovery = &recoveryConfig{
			maxAttempts:    DefaultMaxRecoveryAttempts,
			backoffInitial: DefaultRecoveryBackoffInitial,
			backoffMax:     DefaultRecoveryBackoffMax,
		}
	}

	return pub.recovery
}

// NewPublisher puts ch in confirm mode and returns a publisher targeting exchange.
func NewPublisher(ch ConfirmableChannel, exchange string, opts ...Option) (*Publisher, error) {
	if nilcheck.Interface(ch) {
		return nil, ErrChannelRequired
	}

	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, ErrExchangeRequired
	}

	pub := &Publisher{
		exchange:       exchange,
		shutdown:       make(chan struct{}),
		logger:         alog.NewNop(),
		confirmTimeout: DefaultConfirmTimeout,
		retry:          DefaultRetryPolicy,
		breakerConfig:  DefaultBreakerConfig(),
		now:            time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(pub)
		}
	}

	if pub.recovery != nil && pub.recovery.provider == nil {
		pub.recovery = nil
	}

	pub.retry.Retryable = retryable

	cfg := pub.breakerConfig
	pub.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rabbitmq-publisher-" + exchange,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			pub.logger.Log(context.Background(), alog.LevelWarn, "circuit breaker state changed",
				alog.String("breaker", name),
				alog.String("from", from.String()),
				alog.String("to", to.String()),
			)
		},
	})

	if err := pub.attach(ch); err != nil {
		return nil, err
	}

	return pub, nil
}

// attach puts ch in confirm mode, makes it the current channel and starts
// watching it.
func (pub *Publisher) attach(ch ConfirmableChannel) error {
	if nilcheck.Interface(ch) {
		return ErrChannelRequired
	}

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("%w: %w", ErrConfirmModeUnavailable, err)
	}

	sess := &session{
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, confirmChannelBuffer)),
		lost:     make(chan struct{}),
	}
	closeNotify := ch.NotifyClose(make(chan *amqp.Error, 1))

	pub.mu.Lock()
	if pub.isShutdown() {
		pub.mu.Unlock()
		return ErrPublisherClosed
	}

	pub.session = sess
	pub.mu.Unlock()

	pub.setHealth(HealthStateConnected)

	go pub.monitor(sess, closeNotify)

	return nil
}

// Health returns the current channel health.
func (pub *Publisher) Health() HealthState {
	pub.mu.Lock()
	defer pub.mu.Unlock()

	return pub.health
}

func (pub *Publisher) setHealth(state HealthState) {
	pub.mu.Lock()
	changed := pub.health != state
	pub.health = state
	pub.mu.Unlock()

	if changed && pub.onHealth != nil {
		pub.onHealth(state)
	}
}

// RoutingKey returns the routing key used for events of kind.
func RoutingKey(kind transfer.EventKind) string {
	return "aru." + string(kind)
}

// Handler returns the publisher as a notify handler.
func (pub *Publisher) Handler() notify.Handler {
	return pub.Publish
}

// Publish encodes event as JSON and publishes it, retrying failed attempts
// while the breaker stays closed.
func (pub *Publisher) Publish(ctx context.Context, event transfer.Event) error {
	if pub == nil {
		return ErrPublisherRequired
	}

	if nilcheck.Interface(event) {
		return ErrEventRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Kind(), err)
	}

	base := map[string]any{}
	if requestID := aru.RequestIDFromContext(ctx); requestID != "" {
		base[HeaderRequestID] = requestID
	}

	msg := amqp.Publishing{
		Headers:      amqp.Table(opentelemetry.PrepareQueueHeaders(ctx, base)),
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    pub.now().UTC(),
		Type:         string(event.Kind()),
		Body:         body,
	}

	routingKey := RoutingKey(event.Kind())

	err = backoff.Retry(ctx, pub.retry, func(ctx context.Context) error {
		_, err := pub.breaker.Execute(func() (any, error) {
			return nil, pub.publishAndWaitConfirm(ctx, routingKey, msg)
		})

		return err
	})
	if err != nil {
		pub.logger.Log(ctx, alog.LevelError, "failed to publish event",
			alog.String("kind", string(event.Kind())),
			alog.String("message_id", msg.MessageId),
			alog.Err(err),
		)

		return fmt.Errorf("publish %s event: %w", event.Kind(), err)
	}

	pub.logger.Log(ctx, alog.LevelDebug, "event published",
		alog.String("kind", string(event.Kind())),
		alog.String("routing_key", routingKey),
		alog.String("message_id", msg.MessageId),
	)

	return nil
}

func (pub *Publisher) publishAndWaitConfirm(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	pub.publishMu.Lock()
	defer pub.publishMu.Unlock()

	sess, err := pub.currentSession()
	if err != nil {
		return err
	}

	if err := sess.ch.PublishWithContext(ctx, pub.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	err = waitForConfirm(ctx, sess.confirms, sess.lost, pub.confirmTimeout)
	if errors.Is(err, ErrConfirmTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// A late confirm would be read as the answer to the next publish.
		sess.markLost()
		_ = sess.ch.Close()
	}

	if errors.Is(err, ErrChannelUnavailable) && pub.isShutdown() {
		return ErrPublisherClosed
	}

	return err
}

// currentSession returns the usable channel, ErrChannelUnavailable while a
// replacement is pending, or ErrPublisherClosed.
func (pub *Publisher) currentSession() (*session, error) {
	pub.mu.Lock()
	defer pub.mu.Unlock()

	if pub.isShutdown() {
		return nil, ErrPublisherClosed
	}

	if pub.session != nil && !pub.session.isLost() {
		return pub.session, nil
	}

	if pub.recovery != nil && pub.health != HealthStateDisconnected {
		return nil, ErrChannelUnavailable
	}

	return nil, ErrPublisherClosed
}

func waitForConfirm(
	ctx context.Context,
	confirms <-chan amqp.Confirmation,
	lost <-chan struct{},
	confirmTimeout time.Duration,
) error {
	timeout := time.NewTimer(confirmTimeout)
	defer timeout.Stop()

	select {
	case confirmed, ok := <-confirms:
		if !ok {
			return ErrChannelUnavailable
		}

		if !confirmed.Ack {
			return fmt.Errorf("%w: delivery_tag=%d", ErrPublishNacked, confirmed.DeliveryTag)
		}

		return nil

	case <-lost:
		return ErrChannelUnavailable

	case <-timeout.C:
		return ErrConfirmTimeout

	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	}
}

// monitor waits until sess is lost, either because the broker closed the
// channel or because a publish gave up on it, then starts recovery.
func (pub *Publisher) monitor(sess *session, closeNotify chan *amqp.Error) {
	select {
	case amqpErr, ok := <-closeNotify:
		if ok && amqpErr != nil {
			pub.logger.Log(context.Background(), alog.LevelWarn, "rabbitmq channel closed",
				alog.Int("code", amqpErr.Code),
				alog.String("reason", amqpErr.Reason),
			)
		}

		sess.markLost()
	case <-sess.lost:
	case <-pub.shutdown:
		return
	}

	pub.mu.Lock()
	if pub.session == sess {
		pub.session = nil
	}
	pub.mu.Unlock()

	_ = sess.ch.Close()

	if pub.isShutdown() {
		return
	}

	pub.recoverChannel()
}

// recoverChannel requests replacement channels with jittered exponential
// backoff until one attaches, the attempts run out or the publisher closes.
func (pub *Publisher) recoverChannel() {
	ctx := context.Background()
	rc := pub.recovery

	if rc == nil {
		pub.logger.Log(ctx, alog.LevelError, "rabbitmq channel lost, publisher disconnected")
		pub.setHealth(HealthStateDisconnected)

		return
	}

	pub.setHealth(HealthStateReconnecting)

	for attempt := range rc.maxAttempts {
		delay := backoff.ExponentialWithJitter(rc.backoffInitial, attempt)
		if delay > rc.backoffMax {
			delay = backoff.FullJitter(rc.backoffMax)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-pub.shutdown:
			timer.Stop()
			return
		}

		ch, err := rc.provider()
		if err != nil {
			pub.logger.Log(ctx, alog.LevelWarn, "rabbitmq channel recovery attempt failed",
				alog.Int("attempt", attempt+1), alog.Int("max_attempts", rc.maxAttempts), alog.Err(err))

			continue
		}

		if err := pub.attach(ch); err != nil {
			if !nilcheck.Interface(ch) {
				_ = ch.Close()
			}

			if errors.Is(err, ErrPublisherClosed) {
				return
			}

			pub.logger.Log(ctx, alog.LevelWarn, "rabbitmq channel recovery attempt failed",
				alog.Int("attempt", attempt+1), alog.Int("max_attempts", rc.maxAttempts), alog.Err(err))

			continue
		}

		pub.logger.Log(ctx, alog.LevelInfo, "rabbitmq channel recovered", alog.Int("attempt", attempt+1))

		return
	}

	pub.logger.Log(ctx, alog.LevelError, "rabbitmq channel recovery exhausted, publisher disconnected",
		alog.Int("max_attempts", rc.maxAttempts))
	pub.setHealth(HealthStateDisconnected)
}

func (pub *Publisher) isShutdown() bool {
	select {
	case <-pub.shutdown:
		return true
	default:
		return false
	}
}

// Close stops the publisher, aborts any recovery and closes its channel.
func (pub *Publisher) Close() error {
	if pub == nil {
		return ErrPublisherRequired
	}

	pub.publishMu.Lock()
	defer pub.publishMu.Unlock()

	pub.mu.Lock()
	if pub.isShutdown() {
		pub.mu.Unlock()
		return nil
	}

	pub.shutdownOnce.Do(func() { close(pub.shutdown) })
	sess := pub.session
	pub.session = nil
	pub.mu.Unlock()

	pub.setHealth(HealthStateDisconnected)

	if sess == nil {
		return nil
	}

	sess.markLost()

	return sess.ch.Close()
}

func retryable(err error) bool {
	return !errors.Is(err, ErrPublisherClosed) &&
		!errors.Is(err, gobreaker.ErrOpenState) &&
		!errors.Is(err, gobreaker.ErrTooManyRequests) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
