package processing

import (
	"sort"
	"time"

	"recon-ingest-go/internal/types"
)

// Aggregator accumulates what the tick delivered over a reporting window.
// It is owned by the tick goroutine.
type Aggregator struct {
	started    time.Time
	frames     int
	validDepth int
	depthSum   float64
	lastFrame  types.FrameSummary
	poses      map[uint32]int
}

func NewAggregator(now time.Time) *Aggregator {
	return &Aggregator{
		started: now,
		poses:   make(map[uint32]int),
	}
}

func (a *Aggregator) AddFrame(s types.FrameSummary) {
	a.frames++
	a.lastFrame = s
	if s.ValidDepth > 0 {
		a.validDepth += s.ValidDepth
		a.depthSum += s.MeanDepth * float64(s.ValidDepth)
	}
}

func (a *Aggregator) AddPose(p types.PoseUpdate) {
	a.poses[p.ID]++
}

func (a *Aggregator) Snapshot(now time.Time) types.WindowSnapshot {
	elapsed := now.Sub(a.started).Seconds()
	snap := types.WindowSnapshot{
		Seconds:   elapsed,
		Frames:    a.frames,
		LastFrame: a.lastFrame,
	}
	if elapsed > 0 {
		snap.FramesPerSecond = float64(a.frames) / elapsed
	}
	if a.validDepth > 0 {
		snap.MeanDepth = a.depthSum / float64(a.validDepth)
	}
	for id, n := range a.poses {
		rate := types.PoseRate{ID: id, Updates: n}
		if elapsed > 0 {
			rate.PerSecond = float64(n) / elapsed
		}
		snap.Poses = append(snap.Poses, rate)
	}
	sort.Slice(snap.Poses, func(i, j int) bool { return snap.Poses[i].ID < snap.Poses[j].ID })
	return snap
}

func (a *Aggregator) Reset(now time.Time) {
	a.started = now
	a.frames = 0
	a.validDepth = 0
	a.depthSum = 0
	clear(a.poses)
}

func Timestamp() string {
	return time.Now().Format("20060102_150405")
}
