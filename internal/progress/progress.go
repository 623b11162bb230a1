// Package progress emits structured progress events for a run; it does not
// render UI itself beyond an optional terminal bar (spec.md §1 Non-goals:
// "does not render progress UI beyond emitting structured progress events").
package progress

import (
	"github.com/schollz/progressbar/v3"
)

// Event is one structured progress update.
type Event struct {
	DownloadedBytes int64
	WrittenBytes    int64
	TotalDownload   int64
	TotalDisk       int64
	Phase           string
}

// Reporter receives progress events; callers may ignore it entirely.
type Reporter interface {
	Report(Event)
	Done()
}

// nopReporter discards every event; the orchestrator falls back to it when
// no Reporter is supplied.
type nopReporter struct{}

func (nopReporter) Report(Event) {}
func (nopReporter) Done()        {}

// Nop returns a Reporter that does nothing.
func Nop() Reporter { return nopReporter{} }

// barReporter drives a terminal progress bar from incoming events.
type barReporter struct {
	bar   *progressbar.ProgressBar
	phase string
}

// NewBar returns a Reporter backed by a schollz/progressbar/v3 bar sized to
// totalDisk bytes (spec.md §4.3 step 8 sizes the run; the bar just renders
// it).
func NewBar(totalDisk int64, description string) Reporter {
	bar := progressbar.NewOptions64(totalDisk,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
	)
	return &barReporter{bar: bar}
}

func (r *barReporter) Report(e Event) {
	if e.Phase != r.phase {
		r.phase = e.Phase
	}
	_ = r.bar.Set64(e.WrittenBytes)
}

func (r *barReporter) Done() {
	_ = r.bar.Finish()
}
