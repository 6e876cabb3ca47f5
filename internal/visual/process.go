package visual

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rickgao/mbfilter/internal/fanout"
	"github.com/rickgao/mbfilter/internal/model"
)

// ProcessConfig describes the child renderer.
type ProcessConfig struct {
	Command     string
	Args        []string
	RunID       string
	WaitTimeout time.Duration // How long Finish waits for the child to exit
}

// ProcessPublisher streams batches to a child process's stdin. A writer
// goroutine drains an unbounded queue, so a slow child only grows memory.
type ProcessPublisher struct {
	cfg    ProcessConfig
	logger *slog.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	queue *fanout.GrowableBuffer[Batch]
	seq   uint64

	finishOnce sync.Once
	writerDone chan struct{}
	exited     chan error
}

// StartProcess launches the renderer. Cancelling ctx kills the child.
func StartProcess(ctx context.Context, cfg ProcessConfig, logger *slog.Logger) (*ProcessPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("renderer stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start renderer %s: %w", cfg.Command, err)
	}

	p := &ProcessPublisher{
		cfg:        cfg,
		logger:     logger,
		cmd:        cmd,
		stdin:      stdin,
		queue:      fanout.NewGrowableBuffer[Batch](16),
		writerDone: make(chan struct{}),
		exited:     make(chan error, 1),
	}

	go func() { p.exited <- cmd.Wait() }()
	go p.writeLoop()

	logger.Info("renderer process started",
		"command", cfg.Command,
		"pid", cmd.Process.Pid,
	)
	return p, nil
}

// Publish queues a batch for the child.
func (p *ProcessPublisher) Publish(events []model.MeasuredEvent) {
	if len(events) == 0 {
		return
	}
	p.enqueue(model.PeakHeights(events), false)
}

// Finish sends the final batch, closes stdin and waits for the child.
func (p *ProcessPublisher) Finish() {
	p.finishOnce.Do(func() {
		p.enqueue(nil, true)
		p.queue.Close()
		<-p.writerDone

		if err := p.stdin.Close(); err != nil {
			p.logger.Debug("close renderer stdin", "error", err)
		}

		select {
		case err := <-p.exited:
			if err != nil {
				p.logger.Warn("renderer process exited with error", "error", err)
			} else {
				p.logger.Info("renderer process exited")
			}
		case <-time.After(p.cfg.WaitTimeout):
			p.logger.Warn("renderer process did not exit, killing", "timeout", p.cfg.WaitTimeout)
			if err := p.cmd.Process.Kill(); err != nil {
				p.logger.Error("kill renderer process", "error", err)
			}
			<-p.exited
		}
	})
}

func (p *ProcessPublisher) enqueue(peaks []uint64, final bool) {
	p.seq++
	p.queue.Send(Batch{
		RunID:       p.cfg.RunID,
		Seq:         p.seq,
		PeakHeights: peaks,
		Final:       final,
	})
}

// writeLoop writes queued batches until the queue closes. After the first
// write error the remaining batches are discarded.
func (p *ProcessPublisher) writeLoop() {
	defer close(p.writerDone)

	var failed bool
	for {
		b, ok := p.queue.Receive()
		if !ok {
			return
		}
		if failed {
			continue
		}
		if err := WriteFrame(p.stdin, b); err != nil {
			p.logger.Error("write to renderer failed, discarding further batches",
				"seq", b.Seq,
				"error", err,
			)
			failed = true
		}
	}
}
