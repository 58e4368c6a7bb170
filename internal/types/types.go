package types

// Frame is one color+depth pair read from the reconstruction stream.
// Color holds RGB pixels when decoding is enabled, otherwise the payload as sent.
type Frame struct {
	Width  uint32 `json:"width" cbor:"width"`
	Height uint32 `json:"height" cbor:"height"`
	Color  []byte `json:"-" cbor:"color"`
	Depth  []byte `json:"-" cbor:"depth"`
}

// PoseUpdate is a rigid-body pose as sent by the tracking server.
// Rotation is x, y, z, w and is kept unnormalized.
type PoseUpdate struct {
	ID        uint32     `json:"id" cbor:"id"`
	Timestamp float64    `json:"timestamp" cbor:"timestamp"`
	Position  [3]float32 `json:"position" cbor:"position"`
	Rotation  [4]float32 `json:"rotation" cbor:"rotation"`
}

// IdentityPose returns the pose reported for ids that were never updated.
func IdentityPose(id uint32) PoseUpdate {
	return PoseUpdate{ID: id, Rotation: [4]float32{0, 0, 0, 1}}
}
