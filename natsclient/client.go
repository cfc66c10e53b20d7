package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Lej77/tst-mark-tabs/errors"
	"github.com/Lej77/tst-mark-tabs/metric"
)

// Client manages one NATS connection and its JetStream context.
type Client struct {
	url    string
	name   string
	logger *slog.Logger

	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	metricsReg *metric.MetricsRegistry

	mu     sync.RWMutex
	conn   *nats.Conn
	js     jetstream.JetStream
	subs   []*nats.Subscription
	closed atomic.Bool

	onReconnect func()
}

// NewClient creates a client for the given server URL. The connection
// is not established until Connect is called.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("empty server url: %w", errors.ErrInvalidConfig),
			"Client", "NewClient", "validate url")
	}

	c := &Client{
		url:           url,
		name:          "marktabs-" + uuid.NewString()[:8],
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	return c, nil
}

// Connect establishes the connection and initializes JetStream.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.Wrap(errors.ErrDisposed, "Client", "Connect", "connect after close")
	}

	opts := []nats.Option{
		nats.Name(c.name),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("nats disconnected", "error", err)
			c.setConnectedGauge(false)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.logger.Info("nats reconnected", "url", c.url)
			c.setConnectedGauge(true)
			if c.metricsReg != nil {
				c.metricsReg.CoreMetrics().NATSReconnects.Inc()
			}
			c.mu.RLock()
			fn := c.onReconnect
			c.mu.RUnlock()
			if fn != nil {
				go fn()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.setConnectedGauge(false)
		}),
	}

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			connectDone <- err
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.js = js
		c.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		return errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrConnectionTimeout, ctx.Err()),
			"Client", "Connect", "establish connection")
	}

	c.setConnectedGauge(true)
	c.logger.Info("connected to nats", "url", c.url, "name", c.name)
	return nil
}

// Conn returns the underlying connection, or an error when not
// connected.
func (c *Client) Conn() (*nats.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil || !c.conn.IsConnected() {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "Conn", "get connection")
	}
	return c.conn, nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "JetStream", "get context")
	}
	return c.js, nil
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// OnReconnect sets a callback invoked after every reconnect, used by
// the daemon to re-run sidebar reconciliation.
func (c *Client) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = fn
}

// EnsureKeyValue returns the named KV bucket, creating it when absent.
// A concurrent creator racing this call is tolerated.
func (c *Client) EnsureKeyValue(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		return bucket, nil
	}

	bucket, err = js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if isAlreadyExistsError(err) {
			bucket, err = js.KeyValue(ctx, cfg.Bucket)
			if err != nil {
				return nil, errors.WrapTransient(err, "Client", "EnsureKeyValue",
					fmt.Sprintf("access bucket %s", cfg.Bucket))
			}
			return bucket, nil
		}
		return nil, errors.WrapTransient(err, "Client", "EnsureKeyValue",
			fmt.Sprintf("create bucket %s", cfg.Bucket))
	}

	c.logger.Info("created kv bucket", "bucket", cfg.Bucket)
	return bucket, nil
}

// Subscribe subscribes to a subject; the subscription is cleaned up on
// Close.
func (c *Client) Subscribe(subject string, handler func([]byte)) error {
	conn, err := c.Conn()
	if err != nil {
		return err
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Publish publishes a message to a subject.
func (c *Client) Publish(subject string, data []byte) error {
	conn, err := c.Conn()
	if err != nil {
		return err
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+subject)
	}
	return nil
}

// Request performs a request/reply round trip, honoring the context
// deadline.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	conn, err := c.Conn()
	if err != nil {
		return nil, err
	}
	msg, err := conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Request", "request "+subject)
	}
	return msg.Data, nil
}

// Close drains and closes the connection. Idempotent.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	subs := c.subs
	c.conn = nil
	c.js = nil
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("unsubscribe failed during close", "error", err)
		}
	}

	if conn == nil {
		return nil
	}

	drainDone := make(chan error, 1)
	go func() { drainDone <- conn.Drain() }()

	drainTimeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	var drainErr error
	select {
	case err := <-drainDone:
		drainErr = err
	case <-time.After(drainTimeout):
		drainErr = fmt.Errorf("drain timeout after %v", drainTimeout)
	case <-ctx.Done():
		drainErr = ctx.Err()
	}

	conn.Close()
	c.setConnectedGauge(false)

	if drainErr != nil {
		return errors.WrapTransient(drainErr, "Client", "Close", "drain connection")
	}
	return nil
}

func (c *Client) setConnectedGauge(up bool) {
	if c.metricsReg == nil {
		return
	}
	v := 0.0
	if up {
		v = 1.0
	}
	c.metricsReg.CoreMetrics().NATSConnected.Set(v)
}

// isAlreadyExistsError matches the server responses for a bucket that
// was created concurrently.
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "bucket name already in use") ||
		strings.Contains(msg, "stream name already in use") ||
		strings.Contains(msg, "already exists")
}
