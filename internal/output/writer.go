package output

import (
	"fmt"
	"os"
	"path/filepath"

	"recon-ingest-go/internal/tracking"
)

// WriteTrackingSummary writes the per-id update rates collected over a run.
func WriteTrackingSummary(
	outputDir string,
	runTimestamp string,
	rows []tracking.ObjectSummary,
) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}

	filename := filepath.Join(outputDir, fmt.Sprintf("%s_tracking_summary.txt", runTimestamp))
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	_, _ = fmt.Fprintln(f, "id, updates, updates_per_second")
	for _, row := range rows {
		_, _ = fmt.Fprintf(f, "%d, %d, %.3f\n", row.ID, row.Updates, row.UpdatesPerSecond)
	}
	return nil
}
