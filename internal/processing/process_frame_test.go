package processing

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"recon-ingest-go/internal/types"
)

func depthBytes(values ...uint16) []byte {
	out := make([]byte, 0, 2*len(values))
	for _, v := range values {
		out = binary.LittleEndian.AppendUint16(out, v)
	}
	return out
}

func TestSummarize(t *testing.T) {
	frame := types.Frame{
		Width:  2,
		Height: 3,
		Color:  make([]byte, 18),
		Depth:  append(depthBytes(0, 1000, 3000, 0xffff, 2000, 0), 0x7f),
	}
	got := Summarize(frame)
	want := types.FrameSummary{
		Width:      2,
		Height:     3,
		ColorBytes: 18,
		DepthBytes: 13,
		ValidDepth: 3,
		MinDepth:   1000,
		MaxDepth:   3000,
		MeanDepth:  2000,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
	if c := Coverage(got); c != 0.5 {
		t.Fatalf("unexpected coverage %v", c)
	}
}

func TestSummarizeEmptyDepth(t *testing.T) {
	got := Summarize(types.Frame{Width: 4, Height: 4, Depth: depthBytes(0, 0)})
	if got.ValidDepth != 0 || got.MinDepth != 0 || got.MaxDepth != 0 || got.MeanDepth != 0 {
		t.Fatalf("unexpected summary %+v", got)
	}
	if Coverage(types.FrameSummary{}) != 0 {
		t.Fatalf("zero-sized frame must have zero coverage")
	}
}

func TestAggregatorWindow(t *testing.T) {
	start := time.Unix(100, 0)
	a := NewAggregator(start)
	a.AddFrame(types.FrameSummary{ValidDepth: 1, MeanDepth: 1000})
	a.AddFrame(types.FrameSummary{ValidDepth: 3, MeanDepth: 2000, Width: 7})
	a.AddFrame(types.FrameSummary{})
	a.AddPose(types.PoseUpdate{ID: 2})
	a.AddPose(types.PoseUpdate{ID: 1})
	a.AddPose(types.PoseUpdate{ID: 2})

	got := a.Snapshot(start.Add(2 * time.Second))
	want := types.WindowSnapshot{
		Seconds:         2,
		Frames:          3,
		FramesPerSecond: 1.5,
		MeanDepth:       1750,
		LastFrame:       types.FrameSummary{},
		Poses: []types.PoseRate{
			{ID: 1, Updates: 1, PerSecond: 0.5},
			{ID: 2, Updates: 2, PerSecond: 1},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	a.Reset(start.Add(2 * time.Second))
	empty := a.Snapshot(start.Add(2 * time.Second))
	if empty.Frames != 0 || len(empty.Poses) != 0 || empty.FramesPerSecond != 0 {
		t.Fatalf("reset left data behind: %+v", empty)
	}
}
