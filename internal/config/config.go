package config

import "time"

type AppConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	PosePort        int           `json:"pose_port"`
	ReconnectDelay  time.Duration `json:"reconnect_delay"`
	AbortWait       time.Duration `json:"abort_wait"`
	DropAccumulated bool          `json:"drop_accumulated"`
	DecodeJPEG      bool          `json:"decode_jpeg"`
	ColorFormat     string        `json:"color_format"`
	MaxFrameBytes   uint32        `json:"max_frame_bytes"`
	TickRate        time.Duration `json:"tick_rate"`
	HTTPPort        int           `json:"http_port"`
	RelayEndpoint   string        `json:"relay_endpoint"`
	RawLog          bool          `json:"raw_log"`
	RawLogDir       string        `json:"raw_log_dir"`
	LogEvery        int           `json:"log_every"`
	ReportEvery     time.Duration `json:"report_every"`
	Debug           bool          `json:"debug"`
	DebugFPS        float64       `json:"debug_fps"`
	TrackID         int           `json:"track_id"`
	ParentID        int           `json:"parent_id"`
}

// Relative reports whether a child/parent pair was configured for relative
// pose reporting. Negative ids disable it.
func (c AppConfig) Relative() bool {
	return c.TrackID >= 0 && c.ParentID >= 0
}
