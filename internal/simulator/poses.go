package simulator

import (
	"context"
	"fmt"
	"math"
	"net"
	"time"

	"recon-ingest-go/internal/pose"
	"recon-ingest-go/internal/types"
)

// OrbitPose is the pose of rigid body id at time ts: each id circles the
// origin at its own radius while yawing to face the direction of travel.
func OrbitPose(id uint32, ts float64) types.PoseUpdate {
	radius := 0.5 + 0.25*float64(id%4)
	angle := ts * (0.5 + 0.1*float64(id%3))
	half := angle / 2
	return types.PoseUpdate{
		ID:        id,
		Timestamp: ts,
		Position: [3]float32{
			float32(radius * math.Cos(angle)),
			1.2,
			float32(radius * math.Sin(angle)),
		},
		Rotation: [4]float32{0, float32(math.Sin(half)), 0, float32(math.Cos(half))},
	}
}

// SendPoses sends one datagram per id to addr at rate Hz until ctx is done.
// Timestamps are seconds since the call.
func SendPoses(ctx context.Context, addr string, ids []uint32, rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("simulator: invalid pose rate %v", rate)
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	start := time.Now()
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()
	buf := make([]byte, 0, pose.DatagramSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		ts := time.Since(start).Seconds()
		for _, id := range ids {
			buf = pose.AppendDatagram(buf[:0], OrbitPose(id, ts))
			// UDP sends only fail locally; a missing receiver is not an error
			_, _ = conn.Write(buf)
		}
	}
}
