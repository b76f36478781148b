package main

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"magnolia/internal/logging"
	"magnolia/internal/progress"
)

// startProgress returns a reporter and a stop function. Terminals get a
// progress bar; other writers get sampled log lines. With --no-progress the
// reporter is nil.
func (c *commandContext) startProgress(w io.Writer) (*progress.Reporter, func()) {
	if c.noProgress {
		return nil, func() {}
	}
	reporter := progress.NewReporter(64)
	done := make(chan struct{})

	file, ok := w.(*os.File)
	if ok && isTerminal(file) {
		go renderBar(w, reporter.Updates(), done)
	} else {
		go logProgress(c.loggerValue(), reporter.Updates(), done)
	}
	return reporter, func() {
		reporter.Close()
		<-done
	}
}

func renderBar(w io.Writer, updates <-chan progress.Update, done chan<- struct{}) {
	defer close(done)
	var bar *progressbar.ProgressBar
	phase := ""
	for update := range updates {
		if bar == nil || update.Phase != phase {
			if bar != nil {
				_ = bar.Finish()
			}
			phase = update.Phase
			bar = progressbar.NewOptions64(-1,
				progressbar.OptionSetWriter(w),
				progressbar.OptionSetDescription(phase),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(30),
				progressbar.OptionThrottle(100*time.Millisecond),
				progressbar.OptionClearOnFinish(),
			)
		}
		if update.Total > 0 && bar.GetMax64() != update.Total {
			bar.ChangeMax64(update.Total)
		}
		_ = bar.Set64(update.Processed)
	}
	if bar != nil {
		_ = bar.Finish()
	}
}

func logProgress(logger *slog.Logger, updates <-chan progress.Update, done chan<- struct{}) {
	defer close(done)
	sampler := logging.NewProgressSampler(10)
	for update := range updates {
		percent := update.Percent()
		if !sampler.ShouldLog(percent, update.Phase) {
			continue
		}
		attrs := []logging.Attr{
			logging.String(logging.FieldEventType, "progress"),
			logging.String("phase", update.Phase),
			logging.Int64("processed", update.Processed),
		}
		if percent >= 0 {
			attrs = append(attrs,
				logging.Int64("total", update.Total),
				logging.Int("percent", int(percent)),
			)
		}
		logger.Info("progress", logging.Args(attrs...)...)
	}
}
