package relay

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	"recon-ingest-go/internal/monitoring"
)

// recvTimeout bounds each receive so cancellation is noticed.
const recvTimeout = 200 * time.Millisecond

type MessageHandler func(topic string, msg Message)

type receiver interface {
	RecvMessageBytes(flags zmq4.Flag) ([][]byte, error)
	Close() error
}

// Subscribe connects a SUB socket to a relay endpoint and calls fn for every
// message on the given topics (all topics when none are given) until ctx is
// done. Malformed messages are counted in the returned total and skipped.
func Subscribe(ctx context.Context, endpoint string, topics []string, logEvery int, fn MessageHandler) (skipped uint64, err error) {
	sock, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return 0, err
	}
	if err := sock.SetRcvtimeo(recvTimeout); err != nil {
		_ = sock.Close()
		return 0, err
	}
	if len(topics) == 0 {
		topics = []string{""}
	}
	for _, topic := range topics {
		if err := sock.SetSubscribe(topic); err != nil {
			_ = sock.Close()
			return 0, err
		}
	}
	if err := sock.Connect(endpoint); err != nil {
		_ = sock.Close()
		return 0, fmt.Errorf("relay connect %s: %w", endpoint, err)
	}
	monitoring.Logf("relay: subscribed to %s", endpoint)
	return consume(ctx, sock, monitoring.NewEveryN(logEvery), fn), nil
}

func consume(ctx context.Context, sock receiver, logs *monitoring.EveryN, fn MessageHandler) uint64 {
	defer sock.Close()

	var skipped uint64
	for ctx.Err() == nil {
		parts, err := sock.RecvMessageBytes(0)
		if err != nil {
			if zmq4.AsErrno(err) != zmq4.Errno(syscall.EAGAIN) {
				logs.Printf("relay: receive error: %v", err)
			}
			continue
		}
		if len(parts) != 2 {
			skipped++
			logs.Printf("relay: skipping message with %d frames", len(parts))
			continue
		}
		msg, err := Decode(parts[1])
		if err != nil {
			skipped++
			logs.Printf("relay: %v", err)
			continue
		}
		fn(string(parts[0]), msg)
	}
	return skipped
}
