package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"recon-ingest-go/internal/simulator"
)

func main() {
	var (
		listen   = flag.String("listen", "127.0.0.1:27015", "TCP address for the frame stream")
		width    = flag.Int("width", 320, "Frame width")
		height   = flag.Int("height", 240, "Frame height")
		fps      = flag.Float64("fps", 30, "Frames per second")
		poseAddr = flag.String("pose-addr", "127.0.0.1:12345", "UDP address to send poses to (empty disables)")
		poseRate = flag.Float64("pose-rate", 120, "Pose datagrams per second per id")
		poseIDs  = flag.String("pose-ids", "1,2,3", "Comma-separated rigid body ids")
	)
	flag.Parse()

	ids, err := parseIDs(*poseIDs)
	if err != nil {
		log.Fatalf("pose-ids: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := simulator.NewFrameServer(*listen)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx, *width, *height, *fps) })
	if *poseAddr != "" && len(ids) > 0 {
		log.Printf("sending poses for ids %v to %s", ids, *poseAddr)
		g.Go(func() error { return simulator.SendPoses(ctx, *poseAddr, ids, *poseRate) })
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("simulator: %v", err)
	}
}

func parseIDs(s string) ([]uint32, error) {
	var ids []uint32
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}
