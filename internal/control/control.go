// Package control implements the operator terminal: a line reader that
// turns "stop" into a shutdown request, and a live event counter.
package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Prompt is printed when the reader starts.
const Prompt = "enter 'stop' to stop the data-taking:"

// stopWords end the run, in any letter case.
var stopWords = map[string]bool{"stop": true, "quit": true, "exit": true}

// IsStopCommand reports whether line asks to stop the run.
func IsStopCommand(line string) bool {
	return stopWords[strings.ToLower(strings.TrimSpace(line))]
}

// Reader watches an input stream for stop commands.
type Reader struct {
	in     io.Reader
	out    io.Writer
	stop   func()
	logger *slog.Logger
}

// NewReader creates a Reader that calls stop once on the first stop
// command. out receives the prompt and may be nil.
func NewReader(in io.Reader, out io.Writer, stop func(), logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = io.Discard
	}
	return &Reader{in: in, out: out, stop: stop, logger: logger}
}

// Run prints the prompt and reads lines until a stop command, EOF or ctx
// is done. A blocked read cannot be interrupted, so callers should not
// wait for Run after cancelling ctx. Returns true if it requested a stop.
func (r *Reader) Run(ctx context.Context) bool {
	fmt.Fprintln(r.out, Prompt)

	scanner := bufio.NewScanner(r.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return false
		}
		line := scanner.Text()
		if IsStopCommand(line) {
			r.logger.Info("stop requested by operator", "command", strings.TrimSpace(line))
			r.stop()
			return true
		}
		if strings.TrimSpace(line) != "" {
			r.logger.Debug("ignoring control input", "line", line)
		}
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn("control input failed", "error", err)
	}
	return false
}

// Progress rewrites a single "measured peaks: N" line on out.
type Progress struct {
	out      io.Writer
	interval time.Duration
	count    func() int64
}

// NewProgress creates a counter display polling count every interval.
func NewProgress(out io.Writer, interval time.Duration, count func() int64) *Progress {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Progress{out: out, interval: interval, count: count}
}

// Run updates the line until ctx is done, then prints the final count
// and a newline.
func (p *Progress) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	last := int64(-1)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(p.out, "\rmeasured peaks: %d\n", p.count())
			return
		case <-ticker.C:
			if n := p.count(); n != last {
				fmt.Fprintf(p.out, "\rmeasured peaks: %d", n)
				last = n
			}
		}
	}
}
