package ingest

import (
	"sync"
	"sync/atomic"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

type metrics struct {
	sessions        atomic.Uint64
	disconnects     atomic.Uint64
	connectFailures atomic.Uint64
	streamErrors    atomic.Uint64
	framesReceived  atomic.Uint64
	framesDelivered atomic.Uint64
	framesFrozen    atomic.Uint64
	decodeFailures  atomic.Uint64
	decodeCount     atomic.Uint64
	decodeNanos     atomic.Uint64
	bytesReceived   atomic.Uint64

	sessionMu sync.Mutex
	sessionID string
}

type Stats struct {
	State           string `json:"state"`
	Session         string `json:"session"`
	Sessions        uint64 `json:"sessions_total"`
	Disconnects     uint64 `json:"disconnects_total"`
	ConnectFailures uint64 `json:"connect_failures_total"`
	StreamErrors    uint64 `json:"stream_errors_total"`
	FramesReceived  uint64 `json:"frames_received_total"`
	FramesDelivered uint64 `json:"frames_delivered_total"`
	FramesDropped   uint64 `json:"frames_dropped_total"`
	FramesFrozen    uint64 `json:"frames_frozen_total"`
	DecodeFailures  uint64 `json:"decode_failures_total"`
	DecodeCount     uint64 `json:"decode_total"`
	DecodeNanos     uint64 `json:"decode_nanos_total"`
	BytesReceived   uint64 `json:"bytes_received_total"`
	Pending         int    `json:"pending"`
}

func (c *Client) setSession(id string) {
	c.metrics.sessionMu.Lock()
	c.metrics.sessionID = id
	c.metrics.sessionMu.Unlock()
}

func (c *Client) Stats() Stats {
	c.metrics.sessionMu.Lock()
	session := c.metrics.sessionID
	c.metrics.sessionMu.Unlock()
	return Stats{
		State:           c.State().String(),
		Session:         session,
		Sessions:        c.metrics.sessions.Load(),
		Disconnects:     c.metrics.disconnects.Load(),
		ConnectFailures: c.metrics.connectFailures.Load(),
		StreamErrors:    c.metrics.streamErrors.Load(),
		FramesReceived:  c.metrics.framesReceived.Load(),
		FramesDelivered: c.metrics.framesDelivered.Load(),
		FramesDropped:   c.queue.Drops(),
		FramesFrozen:    c.metrics.framesFrozen.Load(),
		DecodeFailures:  c.metrics.decodeFailures.Load(),
		DecodeCount:     c.metrics.decodeCount.Load(),
		DecodeNanos:     c.metrics.decodeNanos.Load(),
		BytesReceived:   c.metrics.bytesReceived.Load(),
		Pending:         c.queue.Len(),
	}
}
