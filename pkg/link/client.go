package link

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kxpad/kxpad/pkg/logging"
	"github.com/kxpad/kxpad/pkg/verbose"
)

// ConnState represents the CAT server connection state
type ConnState int

const (
	// Disconnected means the underlying network link is down.
	Disconnected ConnState = iota
	// ReadyToConnect means the link is up and a connection attempt is due
	// once the backoff delay has elapsed.
	ReadyToConnect
	// Connecting means a dial is in flight.
	Connecting
	// Connected means the CAT server socket is live.
	Connected
)

// String returns string representation of the connection state
func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case ReadyToConnect:
		return "ready"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Reconnect policy constants
const (
	ConnectTimeout = 2000 * time.Millisecond
	InitialBackoff = 500 * time.Millisecond
	MaxBackoff     = 30000 * time.Millisecond
	MaxRetries     = 10
	drainWindow    = 20 * time.Millisecond
)

// FrequencyCommand is the CAT query for the current dial frequency; the
// server answers with a decimal frequency in Hz.
const FrequencyCommand = "f\n"

// Link events reported from outside the polling goroutine
const (
	evNone int32 = iota
	evLinkUp
	evLinkDown
)

type dialResult struct {
	attempt uint64
	conn    Conn
	err     error
}

// Client manages the connection to the CAT frequency server. All methods
// except the event notifications must be called from the owning (backend)
// goroutine; Poll drives the state machine and never blocks.
type Client struct {
	dialer Dialer

	state       ConnState
	linkUp      bool
	conn        Conn
	retryCount  int
	lastAttempt time.Time

	attempt    uint64
	dialCh     chan dialResult
	pendingEv  atomic.Int32
	peerDrop   atomic.Bool
}

// NewClient creates a CAT client over the given dialer
func NewClient(dialer Dialer) *Client {
	return &Client{
		dialer: dialer,
		state:  Disconnected,
		dialCh: make(chan dialResult, 1),
	}
}

// NotifyLinkUp records that the underlying network association came up.
// Safe to call from any goroutine; consumed by the next Poll.
func (c *Client) NotifyLinkUp() {
	c.pendingEv.Store(evLinkUp)
}

// NotifyLinkDown records that the underlying network association was lost.
// Safe to call from any goroutine; consumed by the next Poll.
func (c *Client) NotifyLinkDown() {
	c.pendingEv.Store(evLinkDown)
}

// State returns the current connection state
func (c *Client) State() ConnState {
	return c.state
}

// RetryCount returns the capped reconnect retry counter
func (c *Client) RetryCount() int {
	return c.retryCount
}

// IsConnected is true only when both the network link and the CAT server
// socket are live.
func (c *Client) IsConnected() bool {
	return c.linkUp && c.state == Connected && c.conn != nil
}

// Poll advances the connection state machine. Call it every backend cycle;
// it never blocks.
func (c *Client) Poll() {
	switch c.pendingEv.Swap(evNone) {
	case evLinkUp:
		c.linkUp = true
		if c.state == Disconnected {
			logging.Info("link", "network link up")
			c.state = ReadyToConnect
			c.retryCount = 0
			c.lastAttempt = time.Time{}
		}
	case evLinkDown:
		logging.Warn("link", "network link lost")
		c.linkUp = false
		c.dropConn()
		c.state = Disconnected
	}

	switch c.state {
	case ReadyToConnect:
		if c.lastAttempt.IsZero() || time.Since(c.lastAttempt) >= c.backoffDelay() {
			c.attemptConnect()
		}

	case Connecting:
		select {
		case res := <-c.dialCh:
			if res.attempt != c.attempt {
				// Result from an abandoned attempt
				if res.conn != nil {
					res.conn.Close()
				}
				return
			}
			if res.err != nil {
				logging.Warnf("link", "connect failed: %v", res.err)
				c.connectFailed()
				return
			}
			logging.Info("link", "CAT server connected")
			c.conn = res.conn
			c.state = Connected
			c.retryCount = 0
		default:
			if time.Since(c.lastAttempt) >= ConnectTimeout {
				logging.Warn("link", "connect timeout")
				c.connectFailed()
			}
		}

	case Connected:
		if c.peerDrop.Swap(false) {
			logging.Warn("link", "CAT server dropped connection")
			c.dropConn()
			c.state = ReadyToConnect
			c.retryCount = 0
			c.lastAttempt = time.Time{}
		}
	}
}

// attemptConnect starts a non-blocking connection attempt
func (c *Client) attemptConnect() {
	verbose.Printf("link: attempting CAT server connection (retry %d)", c.retryCount)
	c.state = Connecting
	c.lastAttempt = time.Now()
	c.attempt++

	attempt := c.attempt
	go func() {
		conn, err := c.dialer.Dial()
		select {
		case c.dialCh <- dialResult{attempt: attempt, conn: conn, err: err}:
		default:
			// Poll already moved on; nobody will read this result
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (c *Client) connectFailed() {
	c.dropConn()
	c.state = ReadyToConnect
	c.lastAttempt = time.Now()
	if c.retryCount < MaxRetries {
		c.retryCount++
	}
}

func (c *Client) dropConn() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// backoffDelay returns the reconnect delay for the current retry count:
// 500ms, 1s, 2s, 4s, ... capped at 30s (exponent capped at 6).
func (c *Client) backoffDelay() time.Duration {
	exp := c.retryCount
	if exp > 6 {
		exp = 6
	}
	delay := InitialBackoff * (1 << exp)
	if delay > MaxBackoff {
		delay = MaxBackoff
	}
	return delay
}

// Request writes a command and returns whatever bytes are available once the
// first byte arrives, or an empty string on timeout or when disconnected.
// This is a best-effort single-shot read; no framing is assumed. The call
// blocks the calling goroutine for at most the given timeout.
func (c *Client) Request(command string, timeout time.Duration) string {
	if !c.IsConnected() {
		return ""
	}

	if _, err := c.conn.Write([]byte(command)); err != nil {
		logging.Warnf("link", "send failed: %v", err)
		c.peerDrop.Store(true)
		return ""
	}

	buf := make([]byte, 256)
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	n, err := c.conn.Read(buf)
	if err != nil {
		if isTimeout(err) {
			verbose.Printf("link: request timeout for %q", command)
		} else {
			logging.Warnf("link", "read failed: %v", err)
			c.peerDrop.Store(true)
		}
		return ""
	}

	response := append([]byte(nil), buf[:n]...)

	// Drain whatever else is already buffered
	c.conn.SetReadDeadline(time.Now().Add(drainWindow))
	for {
		n, err = c.conn.Read(buf)
		if n > 0 {
			response = append(response, buf[:n]...)
		}
		if err != nil {
			break
		}
	}

	return string(response)
}

// FetchFrequency queries the server for the current dial frequency in Hz.
// The second return value is false on timeout or a malformed reply.
func (c *Client) FetchFrequency(timeout time.Duration) (uint64, bool) {
	resp := c.Request(FrequencyCommand, timeout)
	if resp == "" {
		return 0, false
	}

	freq, err := strconv.ParseUint(strings.TrimSpace(resp), 10, 64)
	if err != nil {
		logging.Warnf("link", "malformed frequency reply %q", resp)
		return 0, false
	}
	return freq, true
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	if te, ok := err.(timeout); ok {
		return te.Timeout()
	}
	return false
}
