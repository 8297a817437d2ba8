package pipeline

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/assetbuilder/internal/assets"
	"git.home.luguber.info/inful/assetbuilder/internal/bundle"
	"git.home.luguber.info/inful/assetbuilder/internal/executor"
	"git.home.luguber.info/inful/assetbuilder/internal/orchestrator"
	"git.home.luguber.info/inful/assetbuilder/internal/publish"
)

// BuildSummary counts the service builds of a run.
type BuildSummary struct {
	Total     int
	Succeeded int
	Failed    int
	Failures  []orchestrator.Failure
}

// Report is the outcome of one run.
type Report struct {
	RunID    string
	Command  string
	Started  time.Time
	Finished time.Time
	Build    BuildSummary
	// NoAssets is set when nothing was found to publish.
	NoAssets     bool
	BundleErrors []bundle.BundleError
	ErrorRecords []assets.Record
	Skipped      []publish.Skip
	Published    []publish.PublishableAsset
	AssetLog     *publish.AssetLog
	// Watches are the watch processes left running by a watch run.
	Watches []*executor.WatchProcess
	// Rebundled marks a run that bundled what was on disk without building.
	Rebundled bool
	Err       error
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.Finished.IsZero() {
		return time.Since(r.Started)
	}
	return r.Finished.Sub(r.Started)
}

// WriteTable prints the upload table: path, encodings, duration and size.
// Images and fonts are summarised as a count on the last row.
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "path\tencoding\tduration\tsize")

	images := 0
	for _, key := range r.AssetLog.Keys() {
		e, _ := r.AssetLog.Get(key)
		if isImageOrFont(e.MimeType) {
			images++
			continue
		}
		encodings := "raw"
		if len(e.Encodings) > 0 {
			encodings = strings.Join(e.Encodings, ",")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d ms\t%s\n", e.FullPath, encodings, e.Duration.Milliseconds(), sizeOf(e.FileSize))
	}
	_, _ = fmt.Fprintf(tw, "Uploaded %d images or fonts\t\t\t\n", images)
	return tw.Flush()
}

// WriteSummary prints one line per fact of the run followed by the table.
func (r *Report) WriteSummary(w io.Writer) error {
	status := "succeeded"
	if r.Err != nil {
		status = "failed"
	}
	_, _ = fmt.Fprintf(w, "Run %s %s in %s\n", r.RunID, status, r.Duration().Round(time.Millisecond))
	if r.Rebundled {
		_, _ = fmt.Fprintln(w, "Re-bundled without building")
	} else {
		_, _ = fmt.Fprintf(w, "Builds: %d out of %d succeeded, %d failed\n", r.Build.Succeeded, r.Build.Total, r.Build.Failed)
	}
	if len(r.ErrorRecords) > 0 {
		_, _ = fmt.Fprintf(w, "Missing assets: %d\n", len(r.ErrorRecords))
	}
	if len(r.BundleErrors) > 0 {
		_, _ = fmt.Fprintf(w, "Bundle errors: %d\n", len(r.BundleErrors))
		for _, be := range r.BundleErrors {
			_, _ = fmt.Fprintf(w, "  %s: %s\n", be.Bundle, strings.TrimSpace(be.Error()))
		}
	}
	if r.NoAssets {
		_, _ = fmt.Fprintln(w, "No assets found")
		return nil
	}
	if r.AssetLog == nil || r.AssetLog.Len() == 0 {
		return nil
	}
	return r.WriteTable(w)
}

func isImageOrFont(mimeType string) bool {
	return strings.Contains(mimeType, "image") || strings.Contains(mimeType, "font")
}

func sizeOf(n int) string {
	if n <= 0 {
		return "n/a"
	}
	return humanize.IBytes(uint64(n))
}
