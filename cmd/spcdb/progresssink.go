package main

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/AltEvolutions/spcdb/internal/progress"
	"github.com/AltEvolutions/spcdb/internal/util"
	"github.com/AltEvolutions/spcdb/internal/xlog"
)

// cliSink renders structured progress events to a schollz/progressbar when
// stdout is a TTY, falling back to periodic plain-text log lines otherwise,
// matching the dual-mode rendering the teacher's scanner uses.
type cliSink struct {
	isTTY  bool
	quiet  bool
	bar    *progressbar.ProgressBar
	phase  string
	eta    *progress.ETAEstimator
	phases map[string]time.Time
}

func newCLISink(quiet bool) *cliSink {
	return &cliSink{
		isTTY:  util.IsTerminal(os.Stdout.Fd()),
		quiet:  quiet,
		eta:    progress.NewETAEstimator(),
		phases: make(map[string]time.Time),
	}
}

func (s *cliSink) Emit(ev progress.Event) {
	switch ev.Type {
	case progress.EventPhase:
		s.onPhase(ev)
	case progress.EventProgress:
		s.onProgress(ev)
	case progress.EventLog:
		s.onLog(ev)
	}
}

func (s *cliSink) onPhase(ev progress.Event) {
	if s.bar != nil {
		s.bar.Finish()
		s.bar = nil
	}
	group := progress.GroupFor(ev.Phase)
	s.phase = ev.Phase
	s.phases[ev.Phase] = time.Now()
	if s.quiet {
		return
	}
	if s.isTTY {
		barWidth := util.TerminalWidth(80) / 2
		if barWidth > 40 {
			barWidth = 40
		}
		s.bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription(string(group)+": "+ev.Message),
			progressbar.OptionSetWidth(barWidth),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(150*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		return
	}
	xlog.Infof("[%s] %s", group, ev.Message)
}

func (s *cliSink) onProgress(ev progress.Event) {
	key := s.phase
	if ev.Indeterminate {
		return
	}
	remaining := s.eta.ObserveDeterminate(key, ev.Current, ev.Total)
	if s.quiet {
		return
	}
	if s.isTTY && s.bar != nil {
		s.bar.ChangeMax64(ev.Total)
		s.bar.Set64(ev.Current)
		return
	}
	if remaining > 0 {
		xlog.Infof("[%s] %d/%d (eta %s)", progress.GroupFor(ev.Phase), ev.Current, ev.Total, remaining.Round(time.Second))
	} else {
		xlog.Infof("[%s] %d/%d", progress.GroupFor(ev.Phase), ev.Current, ev.Total)
	}
}

func (s *cliSink) onLog(ev progress.Event) {
	if s.quiet && ev.Level != progress.LevelError {
		return
	}
	switch ev.Level {
	case progress.LevelError:
		xlog.Errorf("%s", ev.Message)
	case progress.LevelWarn:
		xlog.Warnf("%s", ev.Message)
	case progress.LevelSuccess:
		xlog.Successf("%s", ev.Message)
	default:
		xlog.Infof("%s", ev.Message)
	}
}

func (s *cliSink) finish() {
	if s.bar != nil {
		s.bar.Finish()
		s.bar = nil
	}
	for phase, started := range s.phases {
		s.eta.ObserveIndeterminatePhaseDone(phase, time.Since(started))
	}
}
