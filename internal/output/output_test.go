package output

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"recon-ingest-go/internal/tracking"
	"recon-ingest-go/internal/types"
)

func TestRecorderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(dir, "session")
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	clock := time.Unix(10, 500)
	rec.now = func() time.Time { return clock }

	frame := types.Frame{Width: 2, Height: 1, Color: []byte{1, 2, 3}, Depth: []byte{4, 5, 6, 7}}
	pose := types.PoseUpdate{ID: 3, Timestamp: 1.25, Position: [3]float32{1, 2, 3}, Rotation: [4]float32{0, 0, 0, 1}}
	if err := rec.RecordFrame(frame); err != nil {
		t.Fatalf("record frame: %v", err)
	}
	if err := rec.RecordPose(pose); err != nil {
		t.Fatalf("record pose: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := rec.RecordPose(pose); err == nil {
		t.Fatalf("expected error after close")
	}
	if filepath.Dir(rec.Path()) != dir {
		t.Fatalf("recording written outside %s: %s", dir, rec.Path())
	}

	f, err := os.Open(rec.Path())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rd, err := NewReader(f)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}

	var got []Record
	for {
		r, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, r)
	}
	want := []Record{
		{Time: clock, Kind: KindFrame, Frame: &frame},
		{Time: clock, Kind: KindPose, Pose: &pose},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestReaderRejectsForeignFile(t *testing.T) {
	if _, err := NewReader(strings.NewReader("STXMRAW1")); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
	if _, err := NewReader(strings.NewReader("REC")); err == nil {
		t.Fatalf("expected error for short header")
	}
}

func TestReaderTruncatedRecord(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(rawLogMagic)
	buf.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0, 10, 0, 0, 0, 0xa1})
	rd, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if _, err := rd.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestWriteTrackingSummary(t *testing.T) {
	dir := t.TempDir()
	rows := []tracking.ObjectSummary{{ID: 1, Updates: 10, UpdatesPerSecond: 5}, {ID: 4, Updates: 0}}
	if err := WriteTrackingSummary(dir, "run", rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "run_tracking_summary.txt"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "id, updates, updates_per_second\n1, 10, 5.000\n4, 0, 0.000\n"
	if string(data) != want {
		t.Fatalf("unexpected file:\n%s", data)
	}
}
