package callmonitor

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fritzwatch/fritzwatch/internal/retry"
)

const (
	defaultDialTimeout     = 15 * time.Second
	defaultStabilityWindow = 30 * time.Second

	// Keepalive settings are deliberately aggressive: idle NAT and
	// container network paths drop quiet connections without a FIN, and
	// the callmonitor stream can be silent for hours between calls.
	keepaliveIdle     = 10 * time.Second
	keepaliveInterval = 5 * time.Second
	keepaliveCount    = 3
)

// Hooks are the callbacks a Client invokes from its connection goroutine.
// OnLine is called once per complete protocol line, in stream order.
// OnDisconnect is called whenever an established or attempted connection
// fails; OnConnect whenever a connection is established. Any hook may be nil.
type Hooks struct {
	OnLine       func(line string)
	OnConnect    func()
	OnDisconnect func(err error)
}

// Client maintains a persistent connection to the gateway's callmonitor
// port and delivers raw protocol lines to its hooks. It reconnects forever
// with bounded backoff; there is no give-up state.
type Client struct {
	addr   string
	hooks  Hooks
	logger *slog.Logger

	backoff         *retry.Backoff
	dialTimeout     time.Duration
	stabilityWindow time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	conn   net.Conn

	connected  atomic.Bool
	reconnects atomic.Uint64
}

// Option adjusts client behavior, mostly for tests.
type Option func(*Client)

// WithBackoff replaces the reconnect backoff policy.
func WithBackoff(b *retry.Backoff) Option {
	return func(c *Client) { c.backoff = b }
}

// WithDialTimeout sets the per-attempt connect timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithStabilityWindow sets how long a connection must stay up before the
// backoff resets to its minimum delay.
func WithStabilityWindow(d time.Duration) Option {
	return func(c *Client) { c.stabilityWindow = d }
}

// New creates a client for the callmonitor stream at addr ("host:port").
func New(addr string, logger *slog.Logger, hooks Hooks, opts ...Option) *Client {
	c := &Client{
		addr:            addr,
		hooks:           hooks,
		logger:          logger.With("subsystem", "callmonitor"),
		backoff:         retry.New(5*time.Second, 2*time.Minute),
		dialTimeout:     defaultDialTimeout,
		stabilityWindow: defaultStabilityWindow,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the background connection loop. It is an error to start a
// client that is already running.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return fmt.Errorf("callmonitor client already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.run(ctx)
	return nil
}

// Stop cancels the connection loop, closes any open socket and waits for
// the background goroutine to exit. Safe to call concurrently with an
// in-flight connection attempt, and a no-op if the client never started.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	conn := c.conn
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		conn.Close()
	}
	<-done
}

// Connected reports whether the client currently holds an established
// connection.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Reconnects returns the number of times an established connection was lost.
func (c *Client) Reconnects() uint64 {
	return c.reconnects.Load()
}

// run is the connection loop: dial, read until failure, back off, repeat.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	for {
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := c.backoff.Next()
			c.logger.Warn("connect failed",
				"addr", c.addr,
				"error", err,
				"attempt", c.backoff.Attempt(),
				"retry_in", delay.String(),
			)
			c.notifyDisconnect(err)
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		// A dial can succeed even though Stop canceled the context while
		// it was in flight; such a socket is not in c.conn, so Stop cannot
		// close it. Refuse it here instead of entering the read loop.
		if ctx.Err() != nil || !c.register(conn) {
			conn.Close()
			return
		}
		c.connected.Store(true)
		connectedAt := time.Now()
		c.logger.Info("connected", "addr", c.addr)
		if c.hooks.OnConnect != nil {
			c.hooks.OnConnect()
		}

		readErr := c.readLoop(conn)

		c.connected.Store(false)
		c.clearConn()
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		// A connection that survived the stability window proves the
		// path works; start the next retry sequence from the minimum.
		if time.Since(connectedAt) >= c.stabilityWindow {
			c.backoff.Reset()
		}
		c.reconnects.Add(1)

		delay := c.backoff.Next()
		c.logger.Warn("connection lost",
			"addr", c.addr,
			"error", readErr,
			"retry_in", delay.String(),
		)
		c.notifyDisconnect(readErr)
		if !sleep(ctx, delay) {
			return
		}
	}
}

// dial opens a TCP connection with keepalive probing enabled so that dead
// paths are detected even when the stream is idle.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{
		Timeout:   c.dialTimeout,
		KeepAlive: keepaliveInterval,
	}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", c.addr, err)
	}
	return conn, nil
}

// readLoop delivers complete lines until the connection fails. bufio buffers
// partial trailing fragments until the next read completes them; a fragment
// left without its terminator when the connection drops is discarded.
func (c *Client) readLoop(conn net.Conn) error {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		if c.hooks.OnLine != nil {
			c.hooks.OnLine(line)
		}
	}
}

// register records the live connection so Stop can close it. It reports
// false when the client has already been stopped, in which case the caller
// owns the conn and must close it.
func (c *Client) register(conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.conn = conn
	return true
}

func (c *Client) clearConn() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

func (c *Client) notifyDisconnect(err error) {
	if c.hooks.OnDisconnect != nil {
		c.hooks.OnDisconnect(err)
	}
}

// sleep waits for d or until ctx is canceled. It reports false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
