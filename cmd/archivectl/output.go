package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"media-archive/internal/ingest"
)

func writeJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// progress renders import events. On a terminal each finished file gets
// a line and the current stage is redrawn in place; otherwise only
// failures are printed as they happen.
type progress struct {
	w        io.Writer
	live     bool
	finished int
	drawn    bool
}

func newProgress(w io.Writer) *progress {
	return &progress{w: w, live: isTerminal(w)}
}

func (p *progress) event(e ingest.Event, total int) {
	if e.Outcome == nil {
		if p.live {
			fmt.Fprintf(p.w, "\r\033[K%s %s", e.Stage, filepath.Base(e.Path))
			p.drawn = true
		}
		return
	}
	p.finished++
	if !p.live && e.Outcome.Status != ingest.StatusFailed {
		return
	}
	p.clear()
	fmt.Fprintln(p.w, formatOutcome(*e.Outcome, p.finished, total))
}

// clear erases the in-place status line.
func (p *progress) clear() {
	if p.drawn {
		fmt.Fprint(p.w, "\r\033[K")
		p.drawn = false
	}
}

func formatOutcome(o ingest.Outcome, n, total int) string {
	counter := fmt.Sprintf("[%d/%d]", n, total)
	if total <= 0 {
		counter = fmt.Sprintf("[%d]", n)
	}
	line := fmt.Sprintf("%s %-9s %s", counter, o.Status, o.Path)
	switch {
	case o.Status == ingest.StatusFailed:
		line += ": " + o.Reason
	case o.Digest != "":
		line += " (" + o.Digest.Short() + ")"
	}
	return line
}

func formatSummary(res ingest.Result, size int64) string {
	return fmt.Sprintf("%d stored (%s), %d duplicates, %d failed",
		res.Stored, humanize.IBytes(uint64(size)), res.Duplicates, res.Failed)
}
