package pipe

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// process is an external audio tool whose stderr is forwarded to the log.
type process struct {
	cmd    *exec.Cmd
	stderr io.ReadCloser
	log    *slog.Logger
	name   string

	g        errgroup.Group
	stopOnce sync.Once
	stopErr  error
}

// startProcess prepares name with args. Pipes must be requested before
// calling start.
func startProcess(name string, args []string, log *slog.Logger) (*process, error) {
	// #nosec G204 -- the tool name comes from code, arguments from config
	cmd := exec.Command(name, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	return &process{cmd: cmd, stderr: stderr, log: log, name: name}, nil
}

// start launches the process and the stderr pump.
func (p *process) start() error {
	if err := p.cmd.Start(); err != nil {
		return err
	}
	p.g.Go(func() error {
		sc := bufio.NewScanner(p.stderr)
		for sc.Scan() {
			p.log.Debug("pipe: tool output", "cmd", p.name, "line", sc.Text())
		}
		return sc.Err()
	})
	return nil
}

// stop terminates the process and waits for it and the pump. An exit caused
// by the termination signal is not an error.
func (p *process) stop() error {
	p.stopOnce.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
		}
		pumpErr := p.g.Wait()
		waitErr := p.cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			waitErr = nil
		}
		if errors.Is(pumpErr, io.EOF) || errors.Is(pumpErr, exec.ErrWaitDelay) {
			pumpErr = nil
		}
		p.stopErr = errors.Join(pumpErr, waitErr)
	})
	return p.stopErr
}

// closeInputAndWait closes the process input and waits for a natural exit.
func (p *process) closeInputAndWait(stdin io.Closer) error {
	var err error
	p.stopOnce.Do(func() {
		err = stdin.Close()
		err = errors.Join(err, p.g.Wait(), p.cmd.Wait())
		p.stopErr = err
	})
	return p.stopErr
}
