package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"recon-ingest-go/internal/output"
	"recon-ingest-go/internal/processing"
)

func main() {
	var (
		path  = flag.String("path", "", "Path to recording .bin file")
		limit = flag.Int("limit", 10, "Number of records to dump (0 = all)")
		kind  = flag.String("kind", "", "Only dump records of this kind (frame or pose)")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("open recording: %v", err)
	}
	defer f.Close()

	rd, err := output.NewReader(f)
	if err != nil {
		log.Fatalf("open recording: %v", err)
	}

	count := 0
	for *limit <= 0 || count < *limit {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			log.Printf("recording ends with a truncated record")
			return
		}
		if err != nil {
			log.Fatalf("read record %d: %v", count, err)
		}
		if *kind != "" && rec.Kind != *kind {
			continue
		}

		var body any
		switch {
		case rec.Frame != nil:
			body = processing.Summarize(*rec.Frame)
		case rec.Pose != nil:
			body = rec.Pose
		default:
			log.Printf("record %d: unknown kind %q", count, rec.Kind)
			continue
		}
		pretty, err := json.MarshalIndent(body, "", "  ")
		if err != nil {
			log.Printf("record %d: JSON encode error: %v", count, err)
			continue
		}

		log.Printf("record %d kind=%s timestamp=%s", count, rec.Kind, rec.Time.Format(time.RFC3339Nano))
		fmt.Println(string(pretty))
		count++
	}
}
