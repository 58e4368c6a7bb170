package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"recon-ingest-go/internal/monitoring"
	"recon-ingest-go/internal/netio"
	"recon-ingest-go/internal/types"
)

// HeaderSize is the fixed message header: width, height, color length and
// depth length, each a little-endian uint32.
const HeaderSize = 16

type Header struct {
	Width       uint32
	Height      uint32
	ColorLength uint32
	DepthLength uint32
}

func ParseHeader(b [HeaderSize]byte) Header {
	return Header{
		Width:       binary.LittleEndian.Uint32(b[0:4]),
		Height:      binary.LittleEndian.Uint32(b[4:8]),
		ColorLength: binary.LittleEndian.Uint32(b[8:12]),
		DepthLength: binary.LittleEndian.Uint32(b[12:16]),
	}
}

// AppendMessage encodes one wire message. Used by the simulator and tests.
func AppendMessage(dst []byte, width, height uint32, color, depth []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, width)
	dst = binary.LittleEndian.AppendUint32(dst, height)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(color)))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(depth)))
	dst = append(dst, color...)
	return append(dst, depth...)
}

type session struct {
	id          string
	addr        string
	started     time.Time
	received    uint64
	bytes       uint64
	dropsBefore uint64
	colorProbed bool
}

func (c *Client) loop(ctx context.Context, r *run, addr string) {
	defer close(r.done)
	defer c.setState(r, StateDisconnected)

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	first := true
	for ctx.Err() == nil {
		if !first {
			timer := time.NewTimer(c.cfg.ReconnectDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		first = false

		c.setState(r, StateConnecting)
		monitoring.Logf("ingest: connecting to %s", addr)
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.metrics.connectFailures.Add(1)
			c.logs.Printf("ingest: connect %s failed: %v; retrying in %s", addr, err, c.cfg.ReconnectDelay)
			continue
		}
		if !r.setConn(conn) {
			_ = conn.Close()
			return
		}

		sess := c.beginSession(addr)
		c.setState(r, StateConnected)
		err = c.receive(ctx, conn, sess)
		r.clearConn()
		_ = conn.Close()
		c.endSession(ctx, sess, err)
	}
}

func (c *Client) beginSession(addr string) *session {
	c.metrics.sessions.Add(1)
	sess := &session{
		id:          uuid.NewString(),
		addr:        addr,
		started:     time.Now(),
		dropsBefore: c.queue.Drops(),
	}
	c.setSession(sess.id)
	monitoring.Logf("ingest: connected to %s (session %s)", addr, sess.id)
	return sess
}

func (c *Client) endSession(ctx context.Context, sess *session, err error) {
	c.metrics.disconnects.Add(1)
	stopping := ctx.Err() != nil

	var transportErr *netio.TransportError
	var protoErr *netio.ProtocolError
	switch {
	case stopping:
	case errors.Is(err, netio.ErrConnectionClosed):
		monitoring.Logf("ingest: server closed the connection")
	case errors.As(err, &transportErr) && transportErr.Timeout():
		c.metrics.streamErrors.Add(1)
		monitoring.Logf("ingest: timed out: %v", err)
	case errors.As(err, &protoErr):
		c.metrics.streamErrors.Add(1)
		monitoring.Logf("ingest: %v; dropping connection", err)
	case err != nil:
		c.metrics.streamErrors.Add(1)
		monitoring.Logf("ingest: stream error: %v", err)
	}

	elapsed := time.Since(sess.started)
	dropped := c.queue.Drops() - sess.dropsBefore
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		seconds = 1e-9
	}
	suffix := ""
	if !stopping {
		suffix = fmt.Sprintf(" - reconnecting in %s", c.cfg.ReconnectDelay)
	}
	monitoring.Logf("ingest: disconnected from %s after %s (session %s): %d frames (%.1f fps), %d dropped (%.1f fps), %d bytes%s",
		sess.addr, elapsed.Round(time.Millisecond), sess.id,
		sess.received, float64(sess.received)/seconds,
		dropped, float64(dropped)/seconds,
		sess.bytes, suffix)
}

func (c *Client) receive(ctx context.Context, conn net.Conn, sess *session) error {
	var header [HeaderSize]byte
	for ctx.Err() == nil {
		if err := netio.ReadFull(conn, header[:]); err != nil {
			return err
		}
		h := ParseHeader(header)
		if limit := c.cfg.MaxFrameBytes; limit > 0 && (h.ColorLength > limit || h.DepthLength > limit) {
			return &netio.ProtocolError{
				Reason: fmt.Sprintf("payload exceeds %d bytes", limit),
				Length: int(max(h.ColorLength, h.DepthLength)),
			}
		}

		color, err := netio.ReadExact(conn, int(h.ColorLength))
		if err != nil {
			return err
		}
		depth, err := netio.ReadExact(conn, int(h.DepthLength))
		if err != nil {
			return err
		}

		size := uint64(HeaderSize) + uint64(h.ColorLength) + uint64(h.DepthLength)
		sess.bytes += size
		c.metrics.bytesReceived.Add(size)

		frame := types.Frame{Width: h.Width, Height: h.Height, Color: color, Depth: depth}
		if c.cfg.Recorder != nil {
			if err := c.cfg.Recorder.RecordFrame(frame); err != nil {
				c.logs.Printf("ingest: record frame failed: %v", err)
			}
		}

		// framesReceived is bumped last on every path: a Stats reader that
		// sees the count also sees the frame's outcome.
		sess.received++
		if c.frozen.Load() {
			c.metrics.framesFrozen.Add(1)
			c.metrics.framesReceived.Add(1)
			continue
		}
		if c.decoderEnabled() {
			pixels, err := c.decodeColor(sess, color)
			if err != nil {
				c.metrics.decodeFailures.Add(1)
				c.metrics.framesReceived.Add(1)
				c.logs.Printf("ingest: dropping frame: %v", err)
				continue
			}
			frame.Color = pixels
		}
		c.queue.Push(frame)
		c.metrics.framesReceived.Add(1)
	}
	return ctx.Err()
}

func (c *Client) decoderEnabled() bool {
	if c.cfg.Decoder == nil {
		return false
	}
	if h, ok := c.cfg.Decoder.(interface{ Healthy() bool }); ok {
		return h.Healthy()
	}
	return true
}

func (c *Client) decodeColor(sess *session, data []byte) ([]byte, error) {
	start := time.Now()
	defer func() {
		c.metrics.decodeCount.Add(1)
		c.metrics.decodeNanos.Add(uint64(time.Since(start).Nanoseconds()))
	}()

	hdr, err := c.cfg.Decoder.ProbeHeader(data)
	if err != nil {
		return nil, &netio.DecodeError{Stage: "header", Err: err}
	}
	if !sess.colorProbed {
		sess.colorProbed = true
		monitoring.Logf("ingest: color stream %dx%d jpeg %s, decoding to %s (session %s)",
			hdr.Width, hdr.Height, hdr.Subsampling, c.cfg.ColorFormat, sess.id)
	}
	format := c.cfg.ColorFormat
	out := make([]byte, hdr.Width*hdr.Height*format.BytesPerPixel())
	pixels, err := c.cfg.Decoder.Decode(out, data, hdr.Width, hdr.Height, format)
	if err != nil {
		return nil, &netio.DecodeError{Stage: "body", Err: err}
	}
	return pixels, nil
}
