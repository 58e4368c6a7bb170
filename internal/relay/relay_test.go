package relay

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pebbe/zmq4"

	"recon-ingest-go/internal/monitoring"
	"recon-ingest-go/internal/types"
)

type sent struct {
	data  []byte
	flags zmq4.Flag
}

type fakeSocket struct {
	sends  []sent
	err    error
	closed int
}

func (f *fakeSocket) SendBytes(data []byte, flags zmq4.Flag) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.sends = append(f.sends, sent{data: append([]byte(nil), data...), flags: flags})
	return len(data), nil
}

func (f *fakeSocket) Close() error {
	f.closed++
	return nil
}

func TestPublishPoseSendsTopicThenBody(t *testing.T) {
	sock := &fakeSocket{}
	r := newRelay(sock, 1)

	p := types.PoseUpdate{ID: 7, Timestamp: 3, Position: [3]float32{1, 2, 3}, Rotation: [4]float32{0, 0, 0, 1}}
	if err := r.PublishPose(p); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(sock.sends) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(sock.sends))
	}
	if string(sock.sends[0].data) != TopicPose || sock.sends[0].flags != zmq4.SNDMORE|zmq4.DONTWAIT {
		t.Fatalf("unexpected topic frame %+v", sock.sends[0])
	}
	if sock.sends[1].flags != zmq4.DONTWAIT {
		t.Fatalf("body frame must not block")
	}

	msg, err := Decode(sock.sends[1].data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := Message{Type: TopicPose, Pose: &p}
	if diff := cmp.Diff(want, msg); diff != "" {
		t.Fatalf("message mismatch (-want +got):\n%s", diff)
	}
	if n, failed := r.Stats(); n != 1 || failed != 0 {
		t.Fatalf("unexpected stats %d/%d", n, failed)
	}
}

func TestPublishFrame(t *testing.T) {
	sock := &fakeSocket{}
	r := newRelay(sock, 1)
	summary := types.FrameSummary{Width: 640, Height: 480, ValidDepth: 10, MeanDepth: 812.5}
	if err := r.PublishFrame(summary, 4); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := Decode(sock.sends[1].data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != TopicFrame || msg.Drops != 4 || msg.Frame == nil || *msg.Frame != summary || msg.Pose != nil {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestSendFailureCounted(t *testing.T) {
	monitoring.SetLogger(nil)
	sock := &fakeSocket{err: errors.New("resource temporarily unavailable")}
	r := newRelay(sock, 1)
	if err := r.PublishPose(types.PoseUpdate{}); err == nil {
		t.Fatalf("expected error")
	}
	if n, failed := r.Stats(); n != 0 || failed != 1 {
		t.Fatalf("unexpected stats %d/%d", n, failed)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	sock := &fakeSocket{}
	r := newRelay(sock, 1)
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if sock.closed != 1 {
		t.Fatalf("socket closed %d times", sock.closed)
	}
	if err := r.PublishPose(types.PoseUpdate{}); err == nil {
		t.Fatalf("expected error after close")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte{0xff, 0x00}); err == nil {
		t.Fatalf("expected error")
	}
}

type recvResult struct {
	parts [][]byte
	err   error
}

type fakeReceiver struct {
	results []recvResult
	cancel  context.CancelFunc
	closed  bool
}

func (f *fakeReceiver) RecvMessageBytes(zmq4.Flag) ([][]byte, error) {
	if len(f.results) == 0 {
		f.cancel()
		return nil, zmq4.Errno(syscall.EAGAIN)
	}
	next := f.results[0]
	f.results = f.results[1:]
	return next.parts, next.err
}

func (f *fakeReceiver) Close() error {
	f.closed = true
	return nil
}

func TestConsumeDecodesPublishedMessages(t *testing.T) {
	monitoring.SetLogger(nil)
	pub := &fakeSocket{}
	r := newRelay(pub, 1)
	p := types.PoseUpdate{ID: 2, Timestamp: 1.5, Rotation: [4]float32{0, 0, 0, 1}}
	if err := r.PublishPose(p); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := r.PublishFrame(types.FrameSummary{Width: 4, Height: 2}, 1); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := &fakeReceiver{cancel: cancel, results: []recvResult{
		{parts: [][]byte{pub.sends[0].data, pub.sends[1].data}},
		{err: zmq4.Errno(syscall.EAGAIN)},
		{parts: [][]byte{[]byte(TopicPose)}},
		{parts: [][]byte{[]byte(TopicPose), {0xff, 0x00}}},
		{parts: [][]byte{pub.sends[2].data, pub.sends[3].data}},
	}}

	var topics []string
	var got []Message
	skipped := consume(ctx, sub, monitoring.NewEveryN(1), func(topic string, msg Message) {
		topics = append(topics, topic)
		got = append(got, msg)
	})

	if skipped != 2 {
		t.Fatalf("expected 2 skipped messages, got %d", skipped)
	}
	if diff := cmp.Diff([]string{TopicPose, TopicFrame}, topics); diff != "" {
		t.Fatalf("topics mismatch (-want +got):\n%s", diff)
	}
	if got[0].Pose == nil || *got[0].Pose != p {
		t.Fatalf("unexpected pose message %+v", got[0])
	}
	if got[1].Frame == nil || got[1].Frame.Width != 4 || got[1].Drops != 1 {
		t.Fatalf("unexpected frame message %+v", got[1])
	}
	if !sub.closed {
		t.Fatalf("socket not closed")
	}
}
