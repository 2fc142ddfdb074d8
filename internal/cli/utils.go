// Package cli renders ragindex results, status and progress for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/ragindex/internal/indexer"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/pkg/utils"
	"github.com/mattn/go-isatty"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const resultTextLen = 300

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms", response.Total, response.QueryTime)
	if response.Model != "" {
		fmt.Fprintf(w, " (model %s, %d dims)", response.Model, response.Dimension)
	}
	fmt.Fprintln(w)
	if response.Degraded {
		fmt.Fprintln(w, "warning: primary store unavailable, results come from the fallback store")
	}
	fmt.Fprintln(w)
	for _, r := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "#%d  score %.4f  %s [%d:%d]\n", r.Rank, r.Score, r.Path, r.Start, r.End)
		text := r.Snippet
		if text == "" {
			text = r.Text
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(strings.TrimSpace(text), resultTextLen))
	}
	return nil
}

// WriteReport writes a pass report to w in the given format.
func WriteReport(w io.Writer, r *models.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	kind := "update"
	if r.Rebuilt {
		kind = "rebuild"
	}
	fmt.Fprintf(w, "Pass %s (%s) finished in %s\n", r.PassID, kind, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  documents: %d created, %d modified, %d deleted, %d unchanged, %d skipped\n",
		r.Created, r.Modified, r.Deleted, r.Unchanged, r.Skipped)
	fmt.Fprintf(w, "  chunks:    %d embedded in %d calls, %d deleted\n", r.ChunksEmbedded, r.EmbedCalls, r.ChunksDeleted)
	if len(r.ErrorMessages) > 0 {
		fmt.Fprintf(w, "  errors:    %d\n", len(r.ErrorMessages))
		for _, msg := range r.ErrorMessages {
			fmt.Fprintf(w, "    - %s\n", msg)
		}
	}
	return nil
}

// WriteStatus writes index status to w in the given format.
func WriteStatus(w io.Writer, st *indexer.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "State:      %s\n", st.State)
	backend := st.Backend
	if st.Degraded {
		backend += " (degraded"
		if st.DegradedReason != "" {
			backend += ": " + st.DegradedReason
		}
		backend += ")"
	}
	fmt.Fprintf(w, "Backend:    %s\n", backend)
	if st.Manifest != nil {
		fmt.Fprintf(w, "Model:      %s (%d dims)\n", st.Manifest.Model, st.Manifest.Dimension)
		fmt.Fprintf(w, "Chunking:   %s\n", st.Manifest.ChunkPolicy)
	}
	fmt.Fprintf(w, "Records:    %d\n", st.Records)
	dims := make([]string, len(st.Dimensions))
	for i, d := range st.Dimensions {
		dims[i] = fmt.Sprint(d)
	}
	fmt.Fprintf(w, "Dimensions: %s\n", strings.Join(dims, ", "))
	fmt.Fprintf(w, "Keyword:    %d chunks\n", st.KeywordChunks)
	fmt.Fprintf(w, "Indexing:   %t\n", st.Indexing)
	if st.DataDir != "" {
		fmt.Fprintf(w, "Data dir:   %s (%s)\n", st.DataDir, FormatBytes(st.DiskUsageBytes))
		names := make([]string, 0, len(st.DiskUsage))
		for name := range st.DiskUsage {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %-20s %s\n", name, FormatBytes(st.DiskUsage[name]))
		}
	}
	if st.LastReport != nil {
		fmt.Fprintln(w)
		fmt.Fprint(w, "Last ")
		return WriteReport(w, st.LastReport, OutputText)
	}
	return nil
}

// FormatBytes renders n with a binary unit, e.g. "1.5 MiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Progress prints pass progress to w. On a terminal it redraws one line; otherwise it
// prints a line per phase change.
type Progress struct {
	mu       sync.Mutex
	w        io.Writer
	tty      bool
	last     models.Phase
	drawn    bool
	interval time.Duration
	lastDraw time.Time
}

// NewProgress returns a progress printer for w. Terminal detection only applies to *os.File.
func NewProgress(w io.Writer) *Progress {
	p := &Progress{w: w, interval: 100 * time.Millisecond}
	if f, ok := w.(*os.File); ok {
		p.tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return p
}

// Func returns the callback to pass to indexer.WithProgress.
func (p *Progress) Func() models.ProgressFunc {
	return p.update
}

func (p *Progress) update(pr models.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	phaseChanged := pr.Phase != p.last
	p.last = pr.Phase
	if !p.tty {
		if phaseChanged {
			fmt.Fprintf(p.w, "%s...\n", pr.Phase)
		}
		return
	}
	now := time.Now()
	if !phaseChanged && pr.Processed < pr.Total && now.Sub(p.lastDraw) < p.interval {
		return
	}
	p.lastDraw = now
	if phaseChanged && p.drawn {
		fmt.Fprintln(p.w)
	}
	fmt.Fprintf(p.w, "\r%-11s %d/%d", pr.Phase, pr.Processed, pr.Total)
	p.drawn = true
}

// Done ends the progress line.
func (p *Progress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tty && p.drawn {
		fmt.Fprintln(p.w)
	}
	p.drawn = false
}
