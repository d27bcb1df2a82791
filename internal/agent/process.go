package agent

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// waitDelay bounds how long Wait blocks on output pipes after the process
// is gone, e.g. when a grandchild still holds them open.
const waitDelay = 5 * time.Second

// eventBuffer lets readers run ahead of a slow consumer by a few lines.
const eventBuffer = 64

// Start launches cmd and streams its stdout and stderr as OutputEvents.
// Lines from one stream keep their emission order. The channel is closed
// after a final Done event that carries the exit code.
func Start(cmd *exec.Cmd) (<-chan OutputEvent, error) {
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		_ = stdoutW.Close()
		_ = stderrW.Close()
		return nil, &SpawnError{Command: cmd.Path, Err: err}
	}

	events := make(chan OutputEvent, eventBuffer)

	var wg sync.WaitGroup
	wg.Add(2)
	go readLines(stdoutR, Stdout, events, &wg)
	go readLines(stderrR, Stderr, events, &wg)

	go func() {
		waitErr := cmd.Wait()
		_ = stdoutW.Close()
		_ = stderrW.Close()
		wg.Wait()

		events <- OutputEvent{Done: true, ExitCode: exitCode(waitErr)}
		close(events)
	}()

	return events, nil
}

// readLines forwards r line by line, keeping the trailing newline so
// consumers can tell complete records from a truncated final line.
func readLines(r *io.PipeReader, stream StreamKind, events chan<- OutputEvent, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() { _ = r.Close() }()

	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			events <- OutputEvent{Stream: stream, Raw: line}
		}
		if err != nil {
			return
		}
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Environ merges extra variables into the current process environment.
func Environ(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}
