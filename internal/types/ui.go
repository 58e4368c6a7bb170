package types

type FrameSummary struct {
	Width      uint32  `json:"width" cbor:"width"`
	Height     uint32  `json:"height" cbor:"height"`
	ColorBytes int     `json:"color_bytes" cbor:"color_bytes"`
	DepthBytes int     `json:"depth_bytes" cbor:"depth_bytes"`
	ValidDepth int     `json:"valid_depth" cbor:"valid_depth"`
	MinDepth   uint16  `json:"min_depth" cbor:"min_depth"`
	MaxDepth   uint16  `json:"max_depth" cbor:"max_depth"`
	MeanDepth  float64 `json:"mean_depth" cbor:"mean_depth"`
}

type PoseRate struct {
	ID        uint32  `json:"id"`
	Updates   int     `json:"updates"`
	PerSecond float64 `json:"per_second"`
}

// WindowSnapshot is what the tick delivered over one reporting window.
type WindowSnapshot struct {
	Seconds         float64      `json:"seconds"`
	Frames          int          `json:"frames"`
	FramesPerSecond float64      `json:"frames_per_second"`
	MeanDepth       float64      `json:"mean_depth"`
	LastFrame       FrameSummary `json:"last_frame"`
	Poses           []PoseRate   `json:"poses"`
}

type UIFrame struct {
	Type  string       `json:"type"`
	Frame FrameSummary `json:"frame"`
	Drops uint64       `json:"drops"`
}

type UIPoses struct {
	Type  string       `json:"type"`
	Poses []PoseUpdate `json:"poses"`
}

type UIRelative struct {
	Type     string     `json:"type"`
	Child    uint32     `json:"child"`
	Parent   uint32     `json:"parent"`
	Position [3]float64 `json:"position"`
	Rotation [4]float64 `json:"rotation"`
}

type UIWindow struct {
	Type   string         `json:"type"`
	Window WindowSnapshot `json:"window"`
}
