package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"recon-ingest-go/internal/compression"
	"recon-ingest-go/internal/config"
	"recon-ingest-go/internal/ingest"
	"recon-ingest-go/internal/output"
	"recon-ingest-go/internal/pose"
	"recon-ingest-go/internal/processing"
	"recon-ingest-go/internal/relay"
	"recon-ingest-go/internal/server"
	"recon-ingest-go/internal/simulator"
	"recon-ingest-go/internal/tracking"
	"recon-ingest-go/internal/types"
)

type metrics struct {
	ticks           atomic.Uint64
	tickNanos       atomic.Uint64
	framesDrained   atomic.Uint64
	posesDrained    atomic.Uint64
	uiDropped       atomic.Uint64
	relayErrors     atomic.Uint64
	relativeUpdates atomic.Uint64
}

func (m *metrics) snapshot() map[string]any {
	return map[string]any{
		"ticks_total":            m.ticks.Load(),
		"tick_nanos_total":       m.tickNanos.Load(),
		"frames_drained_total":   m.framesDrained.Load(),
		"poses_drained_total":    m.posesDrained.Load(),
		"ui_dropped_total":       m.uiDropped.Load(),
		"relay_errors_total":     m.relayErrors.Load(),
		"relative_updates_total": m.relativeUpdates.Load(),
	}
}

func main() {
	var (
		host            = flag.String("host", "127.0.0.1", "Reconstruction server host")
		port            = flag.Int("port", 27015, "Reconstruction server TCP port")
		posePort        = flag.Int("pose-port", 12345, "UDP port for pose datagrams")
		reconnectDelay  = flag.Duration("reconnect-delay", 1*time.Second, "Delay between reconnect attempts")
		abortWait       = flag.Duration("abort-wait", 100*time.Millisecond, "How long stop waits for a receive loop")
		dropAccumulated = flag.Bool("drop-accumulated", true, "Deliver only the newest frame per tick")
		decodeJPEG      = flag.Bool("decode-jpeg", true, "Decode JPEG color payloads")
		colorFormat     = flag.String("color-format", "rgb", "Pixel layout for decoded color (rgb, bgr or rgba)")
		maxFrameBytes   = flag.Uint("max-frame-bytes", 0, "Reject color/depth payloads larger than this (0 = unlimited)")
		tickRate        = flag.Duration("tick-rate", 16*time.Millisecond, "Drain interval")
		httpPort        = flag.Int("http-port", 8888, "HTTP port for the monitor")
		relayEndpoint   = flag.String("relay-endpoint", "", "ZMQ PUB endpoint for relaying drained data (empty disables)")
		rawLogEnabled   = flag.Bool("raw-log", false, "Record frames and poses to disk")
		rawLogDir       = flag.String("raw-log-dir", "rawlog", "Directory for recordings")
		logEvery        = flag.Int("log-every", 100, "Log every Nth per-message error")
		reportEvery     = flag.Duration("report-every", 5*time.Second, "Throughput report interval")
		debug           = flag.Bool("debug", false, "Run against the built-in simulator")
		debugFPS        = flag.Float64("debug-fps", 30, "Simulator frame rate")
		trackID         = flag.Int("track-id", -1, "Child id for relative pose reporting (-1 disables)")
		parentID        = flag.Int("parent-id", -1, "Parent id for relative pose reporting (-1 disables)")
	)
	flag.Parse()

	pixelFormat, err := compression.ParsePixelFormat(*colorFormat)
	if err != nil {
		log.Fatalf("color-format: %v", err)
	}
	if *maxFrameBytes > 1<<32-1 {
		log.Fatalf("max-frame-bytes %d does not fit the wire format", *maxFrameBytes)
	}
	cfg := config.AppConfig{
		Host:            *host,
		Port:            *port,
		PosePort:        *posePort,
		ReconnectDelay:  *reconnectDelay,
		AbortWait:       *abortWait,
		DropAccumulated: *dropAccumulated,
		DecodeJPEG:      *decodeJPEG,
		ColorFormat:     pixelFormat.String(),
		MaxFrameBytes:   uint32(*maxFrameBytes),
		TickRate:        *tickRate,
		HTTPPort:        *httpPort,
		RelayEndpoint:   *relayEndpoint,
		RawLog:          *rawLogEnabled,
		RawLogDir:       *rawLogDir,
		LogEvery:        *logEvery,
		ReportEvery:     *reportEvery,
		Debug:           *debug,
		DebugFPS:        *debugFPS,
		TrackID:         *trackID,
		ParentID:        *parentID,
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = 16 * time.Millisecond
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = 5 * time.Second
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("recon-ingest: %v", err)
	}
}

func run(ctx context.Context, cfg config.AppConfig) error {
	colorFormat, err := compression.ParsePixelFormat(cfg.ColorFormat)
	if err != nil {
		return err
	}
	runTimestamp := processing.Timestamp()
	g, ctx := errgroup.WithContext(ctx)

	var recorder *output.Recorder
	var frameRecorder ingest.Recorder
	var poseRecorder pose.Recorder
	if cfg.RawLog {
		rec, err := output.NewRecorder(cfg.RawLogDir, "recon")
		if err != nil {
			return fmt.Errorf("start recording: %w", err)
		}
		recorder = rec
		frameRecorder = rec
		poseRecorder = rec
		log.Printf("recording to %s", rec.Path())
	}

	var pub *relay.Relay
	if cfg.RelayEndpoint != "" {
		r, err := relay.New(cfg.RelayEndpoint, cfg.LogEvery)
		if err != nil {
			return err
		}
		pub = r
	}

	if cfg.Debug {
		sim, err := simulator.NewFrameServer(fmt.Sprintf("127.0.0.1:%d", cfg.Port))
		if err != nil {
			return fmt.Errorf("start simulator: %w", err)
		}
		cfg.Host = "127.0.0.1"
		g.Go(func() error { return sim.Serve(ctx, 320, 240, cfg.DebugFPS) })
		g.Go(func() error {
			return simulator.SendPoses(ctx, fmt.Sprintf("127.0.0.1:%d", cfg.PosePort), []uint32{1, 2, 3}, 120)
		})
	}

	var decoder ingest.Decoder
	if cfg.DecodeJPEG {
		decoder = compression.NewJPEG()
	}
	client := ingest.NewClient(ingest.Config{
		ReconnectDelay:  cfg.ReconnectDelay,
		AbortWait:       cfg.AbortWait,
		DropAccumulated: cfg.DropAccumulated,
		MaxFrameBytes:   cfg.MaxFrameBytes,
		Decoder:         decoder,
		ColorFormat:     colorFormat,
		Recorder:        frameRecorder,
		LogEvery:        cfg.LogEvery,
	})
	receiver := pose.NewReceiver(pose.Config{
		AbortWait: cfg.AbortWait,
		Recorder:  poseRecorder,
		LogEvery:  cfg.LogEvery,
	})
	if err := receiver.Start(cfg.PosePort); err != nil {
		return fmt.Errorf("pose receiver: %w", err)
	}
	if err := client.Start(ctx, cfg.Host, cfg.Port); err != nil {
		receiver.Stop()
		return err
	}

	handler := tracking.NewHandler()
	uiMessages := make(chan any, 64)
	var m metrics
	publishUI := func(msg any) {
		select {
		case uiMessages <- msg:
		default:
			m.uiDropped.Add(1)
		}
	}
	if cfg.Relative() {
		child, parent := uint32(cfg.TrackID), uint32(cfg.ParentID)
		handler.Subscribe(child, func(*tracking.TrackedObject) {
			rel := handler.Relative(child, parent)
			m.relativeUpdates.Add(1)
			publishUI(types.UIRelative{
				Type:     "relative",
				Child:    child,
				Parent:   parent,
				Position: [3]float64(rel.Position),
				Rotation: [4]float64{rel.Rotation.V[0], rel.Rotation.V[1], rel.Rotation.V[2], rel.Rotation.W},
			})
		})
	}

	var windowMu sync.Mutex
	var lastWindow types.WindowSnapshot
	hooks := server.Hooks{
		Status: func() map[string]any {
			status := map[string]any{
				"frames":   client.Stats(),
				"poses":    receiver.Stats(),
				"tracking": handler.Summary(),
				"tick":     m.snapshot(),
			}
			if pub != nil {
				sent, failed := pub.Stats()
				status["relay"] = map[string]any{"sent_total": sent, "failed_total": failed}
			}
			return status
		},
		Snapshot: func() any {
			windowMu.Lock()
			defer windowMu.Unlock()
			return types.UIWindow{Type: "window", Window: lastWindow}
		},
		Control: func(c server.Control) error {
			if c.Frozen != nil {
				client.SetFrozen(*c.Frozen)
				log.Printf("frames frozen: %v", *c.Frozen)
			}
			if c.DropAccumulated != nil {
				client.SetDropAccumulated(*c.DropAccumulated)
				log.Printf("drop accumulated frames: %v", *c.DropAccumulated)
			}
			return nil
		},
	}

	log.Printf("Starting monitor at http://localhost:%d", cfg.HTTPPort)
	g.Go(func() error { return server.Run(ctx, cfg, uiMessages, hooks) })

	g.Go(func() error {
		ticker := time.NewTicker(cfg.TickRate)
		defer ticker.Stop()
		report := time.NewTicker(cfg.ReportEvery)
		defer report.Stop()
		agg := processing.NewAggregator(time.Now())

		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-report.C:
				snap := agg.Snapshot(now)
				windowMu.Lock()
				lastWindow = snap
				windowMu.Unlock()
				log.Printf("delivered %.1f frames/s (mean depth %.0f mm), %d tracked ids", snap.FramesPerSecond, snap.MeanDepth, len(snap.Poses))
				publishUI(types.UIWindow{Type: "window", Window: snap})
				agg.Reset(now)
			case <-ticker.C:
				start := time.Now()
				client.Drain(func(f types.Frame) {
					summary := processing.Summarize(f)
					agg.AddFrame(summary)
					m.framesDrained.Add(1)
					drops := client.Stats().FramesDropped
					publishUI(types.UIFrame{Type: "frame", Frame: summary, Drops: drops})
					if pub != nil {
						if err := pub.PublishFrame(summary, drops); err != nil {
							m.relayErrors.Add(1)
						}
					}
				})
				var poses []types.PoseUpdate
				receiver.Drain(func(p types.PoseUpdate) {
					handler.UpdatePose(p)
					agg.AddPose(p)
					poses = append(poses, p)
					if pub != nil {
						if err := pub.PublishPose(p); err != nil {
							m.relayErrors.Add(1)
						}
					}
				})
				if len(poses) > 0 {
					m.posesDrained.Add(uint64(len(poses)))
					publishUI(types.UIPoses{Type: "poses", Poses: poses})
				}
				m.ticks.Add(1)
				m.tickNanos.Add(uint64(time.Since(start).Nanoseconds()))
			}
		}
	})

	err = g.Wait()

	client.Stop()
	receiver.Stop()
	handler.LogSummary()
	if pub != nil {
		if cerr := pub.Close(); cerr != nil {
			log.Printf("relay close failed: %v", cerr)
		}
	}
	if recorder != nil {
		if werr := output.WriteTrackingSummary(cfg.RawLogDir, runTimestamp, handler.Summary()); werr != nil {
			log.Printf("tracking summary write failed: %v", werr)
		}
		if cerr := recorder.Close(); cerr != nil {
			log.Printf("recording close failed: %v", cerr)
		}
	}
	return err
}
