package pose

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"recon-ingest-go/internal/monitoring"
	"recon-ingest-go/internal/netio"
	"recon-ingest-go/internal/queue"
	"recon-ingest-go/internal/types"
)

// Recorder receives every well-formed datagram before ordering is applied.
type Recorder interface {
	RecordPose(p types.PoseUpdate) error
}

type PoseHandler func(p types.PoseUpdate)

type Config struct {
	// Address is the interface to bind; empty listens on all of them.
	Address   string
	AbortWait time.Duration
	// ReadBuffer sets SO_RCVBUF when positive.
	ReadBuffer int
	Recorder   Recorder
	LogEvery   int
}

const (
	defaultAbortWait = 100 * time.Millisecond
	// Larger than any valid datagram so oversized ones are seen whole and
	// counted invalid instead of being truncated to 40 bytes.
	packetBufferSize = 64 * 1024
)

// Receiver is the pose datagram pipeline. One goroutine reads the socket and
// folds accepted poses into a per-id pending map; Drain hands the latest pose
// per id to the owner's tick.
type Receiver struct {
	cfg     Config
	pending *queue.Keyed[uint32, types.PoseUpdate]
	logs    *monitoring.EveryN

	// mu guards the watermark and the ignored decision on the pending map.
	mu        sync.Mutex
	watermark float64

	received   atomic.Uint64
	ignored    atomic.Uint64
	invalid    atomic.Uint64
	outOfOrder atomic.Uint64
	readErrors atomic.Uint64
	delivered  atomic.Uint64

	runMu  sync.Mutex
	active *listenRun
}

type listenRun struct {
	id       string
	conn     *net.UDPConn
	started  time.Time
	stopping atomic.Bool
	done     chan struct{}
}

func NewReceiver(cfg Config) *Receiver {
	if cfg.AbortWait <= 0 {
		cfg.AbortWait = defaultAbortWait
	}
	return &Receiver{
		cfg:       cfg,
		pending:   queue.NewKeyed[uint32, types.PoseUpdate](),
		logs:      monitoring.NewEveryN(cfg.LogEvery),
		watermark: math.Inf(-1),
	}
}

// Start binds the UDP port and launches the receive goroutine. A bind failure
// is returned as a *netio.BindError and leaves the receiver inactive. Port 0
// picks an ephemeral port; see LocalAddr.
func (r *Receiver) Start(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("pose: invalid port %d", port)
	}

	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.active != nil {
		monitoring.Logf("pose: already listening on %s", r.active.conn.LocalAddr())
		return nil
	}

	addr := net.JoinHostPort(r.cfg.Address, strconv.Itoa(port))
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return &netio.BindError{Addr: addr, Err: err}
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return &netio.BindError{Addr: addr, Err: err}
	}
	if r.cfg.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(r.cfg.ReadBuffer); err != nil {
			monitoring.Logf("pose: failed to set receive buffer to %d bytes: %v", r.cfg.ReadBuffer, err)
		}
	}

	r.resetSession()
	run := &listenRun{
		id:      uuid.NewString(),
		conn:    conn,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	r.active = run
	go r.loop(run)
	monitoring.Logf("pose: listening on %s for rigid body poses (session %s)", conn.LocalAddr(), run.id)
	return nil
}

func (r *Receiver) resetSession() {
	r.mu.Lock()
	r.watermark = math.Inf(-1)
	r.mu.Unlock()
	r.received.Store(0)
	r.ignored.Store(0)
	r.invalid.Store(0)
	r.outOfOrder.Store(0)
	r.readErrors.Store(0)
}

// Stop closes the socket to unblock the pending read, waits up to AbortWait
// for the goroutine and logs the session throughput. Safe to call repeatedly.
func (r *Receiver) Stop() {
	r.runMu.Lock()
	run := r.active
	r.active = nil
	r.runMu.Unlock()
	if run == nil {
		return
	}

	run.stopping.Store(true)
	_ = run.conn.Close()

	timer := time.NewTimer(r.cfg.AbortWait)
	defer timer.Stop()
	select {
	case <-run.done:
	case <-timer.C:
		monitoring.Logf("pose: receive loop still running after %s; abandoning it", r.cfg.AbortWait)
	}

	s := r.Stats()
	elapsed := time.Since(run.started)
	seconds := math.Max(elapsed.Seconds(), 1e-9)
	monitoring.Logf("pose: received %.1f msgs/s (%d out of order, %d invalid, %d ignored); parsed %.1f msgs/s over %.2f minutes (session %s)",
		float64(s.Received)/seconds, s.OutOfOrder, s.Invalid, s.Ignored,
		float64(s.Accepted)/seconds, elapsed.Minutes(), run.id)
	monitoring.Logf("pose: stopped")
}

func (r *Receiver) loop(run *listenRun) {
	defer close(run.done)

	buf := make([]byte, packetBufferSize)
	for !run.stopping.Load() {
		n, _, err := run.conn.ReadFromUDP(buf)
		if err != nil {
			if run.stopping.Load() || netio.IsClosed(err) {
				return
			}
			r.readErrors.Add(1)
			r.logs.Printf("pose: %v", &netio.TransportError{Op: "read", Err: err})
			continue
		}
		r.handle(buf[:n])
	}
}

// handle applies one datagram: length check, global watermark, then
// coalescing into the pending entry for its id.
func (r *Receiver) handle(msg []byte) {
	r.received.Add(1)
	p, err := ParseDatagram(msg)
	if err != nil {
		r.invalid.Add(1)
		r.logs.Printf("pose: discarding datagram: %v", err)
		return
	}
	if r.cfg.Recorder != nil {
		if err := r.cfg.Recorder.RecordPose(p); err != nil {
			r.logs.Printf("pose: record failed: %v", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Timestamp < r.watermark {
		r.outOfOrder.Add(1)
		return
	}
	r.watermark = p.Timestamp
	r.pending.Upsert(p.ID, func(v *types.PoseUpdate, existed bool) {
		if existed {
			r.ignored.Add(1)
		}
		*v = p
	})
}

// Drain calls fn once per id that received an accepted pose since the
// previous call, with the newest pose for that id.
func (r *Receiver) Drain(fn PoseHandler) int {
	poses := r.pending.Drain()
	if fn != nil {
		for _, p := range poses {
			fn(p)
		}
	}
	r.delivered.Add(uint64(len(poses)))
	return len(poses)
}

// LocalAddr returns the bound address, or nil when not listening.
func (r *Receiver) LocalAddr() net.Addr {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.active == nil {
		return nil
	}
	return r.active.conn.LocalAddr()
}

type Stats struct {
	Listening  bool   `json:"listening"`
	Session    string `json:"session"`
	Received   uint64 `json:"received_total"`
	Accepted   uint64 `json:"accepted_total"`
	Ignored    uint64 `json:"ignored_total"`
	Invalid    uint64 `json:"invalid_total"`
	OutOfOrder uint64 `json:"out_of_order_total"`
	ReadErrors uint64 `json:"read_errors_total"`
	Delivered  uint64 `json:"delivered_total"`
	Pending    int    `json:"pending"`
}

func (r *Receiver) Stats() Stats {
	s := Stats{
		Received:   r.received.Load(),
		Ignored:    r.ignored.Load(),
		Invalid:    r.invalid.Load(),
		OutOfOrder: r.outOfOrder.Load(),
		ReadErrors: r.readErrors.Load(),
		Delivered:  r.delivered.Load(),
		Pending:    r.pending.Len(),
	}
	if rejected := s.Ignored + s.Invalid + s.OutOfOrder; s.Received > rejected {
		s.Accepted = s.Received - rejected
	}
	r.runMu.Lock()
	if r.active != nil {
		s.Listening = true
		s.Session = r.active.id
	}
	r.runMu.Unlock()
	return s
}
