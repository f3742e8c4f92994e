package app

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/ggonzalez94/dustsweep/internal/config"
	"github.com/ggonzalez94/dustsweep/internal/model"
)

// startSpinner shows a stderr spinner in plain mode and returns its stop
// func. In JSON mode it is a no-op so stderr stays machine readable.
func startSpinner(w io.Writer, settings config.Settings, suffix string) func() {
	if settings.OutputMode != "plain" {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + suffix
	s.Start()
	var once sync.Once
	return func() { once.Do(s.Stop) }
}

// progressPrinter writes sweep status transitions and revoke progress to
// stderr in plain mode.
type progressPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
	last    model.BatchStatus
}

func newProgressPrinter(w io.Writer, settings config.Settings) *progressPrinter {
	return &progressPrinter{w: w, enabled: settings.OutputMode == "plain"}
}

func (p *progressPrinter) Status(status model.BatchStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled || status == p.last {
		return
	}
	p.last = status
	_, _ = fmt.Fprintf(p.w, "%s %s\n", statusLabel(status), status)
}

func (p *progressPrinter) Progress(current, total int) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, "%s %d/%d\n", color.CyanString("revoking"), current, total)
}

func statusLabel(status model.BatchStatus) string {
	switch status {
	case model.StatusCompleted:
		return color.GreenString("sweep")
	case model.StatusFailed:
		return color.RedString("sweep")
	case model.StatusApproving:
		return color.YellowString("sweep")
	default:
		return color.CyanString("sweep")
	}
}
