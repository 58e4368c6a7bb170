package processing

import (
	"encoding/binary"
	"math"

	"recon-ingest-go/internal/types"
)

// Summarize computes the monitor summary of a frame. Depth is read as
// little-endian uint16 millimetres; 0 and MaxUint16 are treated as no reading.
// A trailing odd byte is ignored.
func Summarize(frame types.Frame) types.FrameSummary {
	summary := types.FrameSummary{
		Width:      frame.Width,
		Height:     frame.Height,
		ColorBytes: len(frame.Color),
		DepthBytes: len(frame.Depth),
	}

	var sum uint64
	minDepth := uint16(math.MaxUint16)
	var maxDepth uint16
	depth := frame.Depth
	for i := 0; i+1 < len(depth); i += 2 {
		v := binary.LittleEndian.Uint16(depth[i:])
		if v == 0 || v == math.MaxUint16 {
			continue
		}
		summary.ValidDepth++
		sum += uint64(v)
		if v < minDepth {
			minDepth = v
		}
		if v > maxDepth {
			maxDepth = v
		}
	}
	if summary.ValidDepth > 0 {
		summary.MinDepth = minDepth
		summary.MaxDepth = maxDepth
		summary.MeanDepth = float64(sum) / float64(summary.ValidDepth)
	}
	return summary
}

// Coverage is the fraction of depth pixels carrying a reading.
func Coverage(s types.FrameSummary) float64 {
	pixels := int(s.Width) * int(s.Height)
	if pixels == 0 {
		return 0
	}
	return float64(s.ValidDepth) / float64(pixels)
}
