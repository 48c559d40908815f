package progress

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// LogSink logs a line each time a job's completion percentage changes. It is
// safe to share between jobs.
func LogSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	var mu sync.Mutex
	last := make(map[string]int)
	return SinkFunc(func(s Snapshot) {
		pct := s.Percent()
		mu.Lock()
		prev, seen := last[s.JobID]
		if seen && prev == pct {
			mu.Unlock()
			return
		}
		if pct >= 100 {
			delete(last, s.JobID)
		} else {
			last[s.JobID] = pct
		}
		mu.Unlock()
		logger.Info("processing",
			slog.String("job_id", s.JobID),
			slog.Int("completed", s.Completed),
			slog.Int("total", s.Total),
			slog.Int("percent", pct),
			slog.String("memory", humanize.Bytes(s.MemoryBytes)),
		)
	})
}

// BarSink renders snapshots as a terminal progress bar on w. The bar is
// created lazily from the first snapshot's total.
func BarSink(w io.Writer) Sink {
	var bar *progressbar.ProgressBar
	return SinkFunc(func(s Snapshot) {
		if bar == nil {
			bar = progressbar.NewOptions(s.Total,
				progressbar.OptionSetWriter(w),
				progressbar.OptionShowCount(),
				progressbar.OptionSetItsString("frame"),
				progressbar.OptionShowIts(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
			)
		}
		if bar.GetMax() != s.Total {
			bar.ChangeMax(s.Total)
		}
		bar.Describe(fmt.Sprintf("processing [mem %s, threads %d, queue %d]",
			humanize.Bytes(s.MemoryBytes), s.Threads, s.QueueCount))
		_ = bar.Set(s.Completed)
	})
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ConsoleSink picks a bar for terminals and falls back to logging otherwise.
func ConsoleSink(w io.Writer, logger *slog.Logger) Sink {
	if IsTerminal(w) {
		return BarSink(w)
	}
	return LogSink(logger)
}
