package pose

import (
	"encoding/binary"
	"math"

	"recon-ingest-go/internal/netio"
	"recon-ingest-go/internal/types"
)

// DatagramSize is the fixed pose datagram: timestamp f64, id u32, position
// 3×f32 and rotation x, y, z, w 4×f32, all little-endian.
const DatagramSize = 40

const (
	offTimestamp = 0
	offID        = 8
	offPosition  = 12
	offRotation  = 24
)

// ParseDatagram decodes one pose datagram. Any length other than
// DatagramSize, or a non-finite timestamp, is a *netio.ProtocolError.
func ParseDatagram(b []byte) (types.PoseUpdate, error) {
	if len(b) != DatagramSize {
		return types.PoseUpdate{}, &netio.ProtocolError{Reason: "pose datagram size", Length: len(b)}
	}
	p := types.PoseUpdate{
		Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(b[offTimestamp:])),
		ID:        binary.LittleEndian.Uint32(b[offID:]),
	}
	if math.IsNaN(p.Timestamp) || math.IsInf(p.Timestamp, 0) {
		return types.PoseUpdate{}, &netio.ProtocolError{Reason: "pose timestamp is not finite", Length: len(b)}
	}
	for i := range p.Position {
		p.Position[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[offPosition+4*i:]))
	}
	for i := range p.Rotation {
		p.Rotation[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[offRotation+4*i:]))
	}
	return p, nil
}

// AppendDatagram encodes p onto dst.
func AppendDatagram(dst []byte, p types.PoseUpdate) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(p.Timestamp))
	dst = binary.LittleEndian.AppendUint32(dst, p.ID)
	for _, v := range p.Position {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	for _, v := range p.Rotation {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

func MarshalDatagram(p types.PoseUpdate) []byte {
	return AppendDatagram(make([]byte, 0, DatagramSize), p)
}
