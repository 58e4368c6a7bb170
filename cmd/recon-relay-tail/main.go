package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"recon-ingest-go/internal/relay"
)

func main() {
	var (
		endpoint = flag.String("endpoint", "tcp://127.0.0.1:31002", "Relay PUB endpoint to subscribe to")
		topics   = flag.String("topics", "", "Comma-separated topics (pose, frame); empty subscribes to all")
		logEvery = flag.Int("log-every", 100, "Log every Nth receive or decode error")
	)
	flag.Parse()

	var filter []string
	for _, topic := range strings.Split(*topics, ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			filter = append(filter, topic)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	count := 0
	skipped, err := relay.Subscribe(ctx, *endpoint, filter, *logEvery, func(topic string, msg relay.Message) {
		count++
		if err := enc.Encode(msg); err != nil {
			log.Printf("message %d (%s): JSON encode error: %v", count, topic, err)
		}
	})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	fmt.Fprintf(os.Stderr, "%d messages, %d skipped\n", count, skipped)
}
