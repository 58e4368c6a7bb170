package relay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
	"github.com/pebbe/zmq4"

	"recon-ingest-go/internal/monitoring"
	"recon-ingest-go/internal/types"
)

// Topics are sent as the first frame of every message so subscribers can
// filter with SetSubscribe.
const (
	TopicPose  = "pose"
	TopicFrame = "frame"
)

// sendHWM bounds the per-subscriber backlog; PUB drops beyond it.
const sendHWM = 64

// Message is the CBOR body of a relayed message.
type Message struct {
	Type  string              `json:"type" cbor:"type"`
	Pose  *types.PoseUpdate   `json:"pose,omitempty" cbor:"pose,omitempty"`
	Frame *types.FrameSummary `json:"frame,omitempty" cbor:"frame,omitempty"`
	Drops uint64              `json:"drops,omitempty" cbor:"drops,omitempty"`
}

type socket interface {
	SendBytes(data []byte, flags zmq4.Flag) (int, error)
	Close() error
}

// Relay publishes drained poses and frame summaries on a ZMQ PUB socket.
// Sends never block the tick: a full or absent subscriber drops the message.
type Relay struct {
	mu     sync.Mutex
	sock   socket
	logs   *monitoring.EveryN
	sent   atomic.Uint64
	failed atomic.Uint64
}

// New binds a PUB socket on endpoint, e.g. "tcp://*:31002".
func New(endpoint string, logEvery int) (*Relay, error) {
	sock, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := sock.SetSndhwm(sendHWM); err != nil {
		_ = sock.Close()
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		_ = sock.Close()
		return nil, err
	}
	if err := sock.Bind(endpoint); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("relay bind %s: %w", endpoint, err)
	}
	monitoring.Logf("relay: publishing on %s", endpoint)
	return newRelay(sock, logEvery), nil
}

func newRelay(sock socket, logEvery int) *Relay {
	return &Relay{sock: sock, logs: monitoring.NewEveryN(logEvery)}
}

func (r *Relay) PublishPose(p types.PoseUpdate) error {
	return r.publish(TopicPose, Message{Type: TopicPose, Pose: &p})
}

func (r *Relay) PublishFrame(s types.FrameSummary, drops uint64) error {
	return r.publish(TopicFrame, Message{Type: TopicFrame, Frame: &s, Drops: drops})
}

func (r *Relay) publish(topic string, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sock == nil {
		return errors.New("relay is closed")
	}
	if _, err := r.sock.SendBytes([]byte(topic), zmq4.SNDMORE|zmq4.DONTWAIT); err != nil {
		return r.sendFailed(topic, err)
	}
	if _, err := r.sock.SendBytes(body, zmq4.DONTWAIT); err != nil {
		return r.sendFailed(topic, err)
	}
	r.sent.Add(1)
	return nil
}

func (r *Relay) sendFailed(topic string, err error) error {
	r.failed.Add(1)
	r.logs.Printf("relay: send %s failed: %v", topic, err)
	return err
}

// Stats returns the number of messages published and failed sends.
func (r *Relay) Stats() (sent, failed uint64) {
	return r.sent.Load(), r.failed.Load()
}

func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sock == nil {
		return nil
	}
	err := r.sock.Close()
	r.sock = nil
	return err
}

func Encode(msg Message) ([]byte, error) {
	body, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return body, nil
}

func Decode(body []byte) (Message, error) {
	var msg Message
	if err := cbor.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("decode relay message: %w", err)
	}
	return msg, nil
}
