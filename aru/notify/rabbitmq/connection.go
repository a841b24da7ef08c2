package rabbitmq

import (
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultDialTimeout bounds the TCP dial to the broker.
const DefaultDialTimeout = 10 * time.Second

var (
	// ErrURLRequired is returned by Dial for an empty broker URL.
	ErrURLRequired = errors.New("rabbitmq url is required")
	// ErrConnectionClosed is returned by NewChannel once the connection is gone.
	ErrConnectionClosed = errors.New("rabbitmq connection is closed")
)

// Connection is a broker connection with one channel and a declared exchange.
type Connection struct {
	conn     *amqp.Connection
	Channel  *amqp.Channel
	Exchange string
}

// Dial connects to url, opens a channel and declares exchange as a durable
// topic exchange.
func Dial(url, exchange string) (*Connection, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, ErrURLRequired
	}

	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, ErrExchangeRequired
	}

	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(DefaultDialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open channel: %w", err), conn.Close())
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, errors.Join(fmt.Errorf("declare exchange %s: %w", exchange, err), conn.Close())
	}

	return &Connection{conn: conn, Channel: ch, Exchange: exchange}, nil
}

// Close closes the connection and with it the channel.
func (c *Connection) Close() error {
	if c == nil || c.conn == nil || c.conn.IsClosed() {
		return nil
	}

	return c.conn.Close()
}

// NewChannel opens a fresh channel on the connection. It is the
// ChannelProvider ledgerd hands to WithAutoRecovery.
//
//nolint:ireturn
func (c *Connection) NewChannel() (ConfirmableChannel, error) {
	if c == nil || c.conn == nil || c.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return ch, nil
}
