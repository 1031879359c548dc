package main

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"repodocx/internal/job"
)

// progressView renders session snapshots while a job is running.
type progressView interface {
	update(snap job.Snapshot)
	finish()
}

func newProgressView(w io.Writer) progressView {
	if isTerminal(w) {
		return &barView{bar: progressbar.NewOptions(100,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("Submitting..."),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)}
	}
	return &logView{}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type barView struct {
	bar *progressbar.ProgressBar
}

func (v *barView) update(snap job.Snapshot) {
	if snap.Progress == nil {
		return
	}
	desc := snap.Progress.PhaseText()
	if snap.Progress.CurrentItem != "" {
		desc += " " + snap.Progress.CurrentItem
	}
	v.bar.Describe(desc)
	_ = v.bar.Set(snap.Percent)
}

func (v *barView) finish() {
	_ = v.bar.Finish()
	_ = v.bar.Exit()
}

// logView writes a log line whenever the phase or the counters change.
type logView struct {
	last job.Progress
	seen bool
}

func (v *logView) update(snap job.Snapshot) {
	if snap.Progress == nil {
		return
	}
	p := *snap.Progress
	if v.seen && p.Phase == v.last.Phase && p.Processed == v.last.Processed && p.Total == v.last.Total {
		return
	}
	v.last, v.seen = p, true
	evt := log.Info().Str("phase", p.PhaseText())
	if p.Total > 0 {
		evt = evt.Int("processed", p.Processed).Int("total", p.Total).Int("percent", snap.Percent)
	}
	if p.CurrentItem != "" {
		evt = evt.Str("file", p.CurrentItem)
	}
	evt.Msg("conversion progress")
}

func (v *logView) finish() {}
