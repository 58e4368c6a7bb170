package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"recon-ingest-go/internal/compression"
	"recon-ingest-go/internal/monitoring"
	"recon-ingest-go/internal/queue"
	"recon-ingest-go/internal/types"
)

// Decoder turns a compressed color payload into RGB pixels.
type Decoder interface {
	ProbeHeader(data []byte) (compression.Header, error)
	Decode(dst, data []byte, width, height int, format compression.PixelFormat) ([]byte, error)
}

// Recorder receives every frame as read from the wire, before decoding.
type Recorder interface {
	RecordFrame(frame types.Frame) error
}

type FrameHandler func(frame types.Frame)

type Config struct {
	ReconnectDelay  time.Duration
	AbortWait       time.Duration
	DialTimeout     time.Duration
	DropAccumulated bool
	// MaxFrameBytes rejects headers announcing a larger color or depth
	// payload. Zero disables the check.
	MaxFrameBytes uint32
	Decoder       Decoder
	// ColorFormat is the pixel layout decoded color payloads are delivered
	// in. The zero value is RGB.
	ColorFormat compression.PixelFormat
	Recorder    Recorder
	LogEvery    int
}

const (
	defaultReconnectDelay = 1 * time.Second
	defaultAbortWait      = 100 * time.Millisecond
	defaultDialTimeout    = 5 * time.Second
)

// Client is the reconstruction stream receiver. A single goroutine connects,
// reads frames and reconnects after failures; Drain hands completed frames to
// the owner's tick.
type Client struct {
	cfg     Config
	queue   *queue.Latest[types.Frame]
	state   atomic.Int32
	frozen  atomic.Bool
	metrics metrics
	logs    *monitoring.EveryN

	mu     sync.Mutex
	active *run
	// abandoned is a run Stop gave up waiting for. Start refuses to launch
	// another loop until it has exited.
	abandoned *run
}

// run is one Start..Stop lifetime of the receive goroutine.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func (r *run) exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *run) setConn(conn net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.conn = conn
	return true
}

func (r *run) clearConn() {
	r.mu.Lock()
	r.conn = nil
	r.mu.Unlock()
}

// closeConn unblocks a read parked on the socket.
func (r *run) closeConn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.conn != nil {
		_ = r.conn.Close()
	}
}

func NewClient(cfg Config) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.AbortWait <= 0 {
		cfg.AbortWait = defaultAbortWait
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Client{
		cfg:   cfg,
		queue: queue.NewLatest[types.Frame](queue.Options{DropAccumulated: cfg.DropAccumulated}),
		logs:  monitoring.NewEveryN(cfg.LogEvery),
	}
}

// Start launches the receive goroutine for host:port. Calling Start while a
// receive goroutine is alive logs and returns without starting another.
func (c *Client) Start(ctx context.Context, host string, port int) error {
	if host == "" {
		return errors.New("ingest: missing host")
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("ingest: invalid port %d", port)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && !c.active.exited() {
		monitoring.Logf("ingest: already connected; stop before connecting again")
		return nil
	}
	if c.abandoned != nil {
		if !c.abandoned.exited() {
			monitoring.Logf("ingest: previous receive loop has not exited yet; not starting another")
			return nil
		}
		c.abandoned = nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	c.active = r
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	go c.loop(runCtx, r, addr)
	return nil
}

// Stop cancels the receive goroutine, closes its socket and waits up to
// AbortWait for it to exit. A goroutine that does not exit in time is
// abandoned; it observes the cancellation on its next wakeup. Safe to call
// repeatedly.
func (c *Client) Stop() {
	c.mu.Lock()
	r := c.active
	c.active = nil
	c.mu.Unlock()
	if r == nil {
		return
	}

	c.state.Store(int32(StateDisconnecting))
	r.cancel()
	r.closeConn()

	timer := time.NewTimer(c.cfg.AbortWait)
	defer timer.Stop()
	select {
	case <-r.done:
	case <-timer.C:
		monitoring.Logf("ingest: receive loop still running after %s; abandoning it", c.cfg.AbortWait)
		c.mu.Lock()
		c.abandoned = r
		c.mu.Unlock()
	}
	c.state.Store(int32(StateDisconnected))
}

// Drain hands every frame queued since the previous call to fn and returns
// how many were delivered. With DropAccumulated this is at most one frame,
// the newest.
func (c *Client) Drain(fn FrameHandler) int {
	frames := c.queue.Drain()
	if fn != nil {
		for _, frame := range frames {
			fn(frame)
		}
	}
	c.metrics.framesDelivered.Add(uint64(len(frames)))
	return len(frames)
}

// SetFrozen keeps the connection alive but stops queueing frames.
func (c *Client) SetFrozen(frozen bool) {
	c.frozen.Store(frozen)
}

func (c *Client) SetDropAccumulated(enabled bool) {
	c.queue.SetDropAccumulated(enabled)
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(r *run, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == r {
		c.state.Store(int32(s))
	}
}
