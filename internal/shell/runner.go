// Package shell runs external tools (git, docker, kubectl) and streams their
// output into the structured log line by line.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Command describes one subprocess invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
	// Redact is replaced by *** in logged arguments.
	Redact []string
}

// String renders the command line for logs.
func (c Command) String() string {
	line := strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
	for _, secret := range c.Redact {
		if secret != "" {
			line = strings.ReplaceAll(line, secret, "***")
		}
	}
	return line
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// Exec runs commands with os/exec.
type Exec struct {
	log *slog.Logger
}

// NewExec constructs an Exec runner.
func NewExec(log *slog.Logger) *Exec {
	if log == nil {
		log = slog.Default()
	}
	return &Exec{log: log.With("component", "shell")}
}

// Run starts the command, logs every output line and waits for completion.
// A non-zero exit is returned as an error carrying the last stderr line.
func (e *Exec) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%s: stdout pipe: %w", c.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%s: stderr pipe: %w", c.Name, err)
	}

	log := e.log.With("cmd", c.Name)
	log.Info("running command", "command", c.String(), "dir", c.Dir)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.Name, err)
	}

	var (
		wg       sync.WaitGroup
		lastErr  string
		lastLock sync.Mutex
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		stream(stdout, c, func(line string) { log.Info(line, "stream", "stdout") })
	}()
	go func() {
		defer wg.Done()
		stream(stderr, c, func(line string) {
			lastLock.Lock()
			lastErr = line
			lastLock.Unlock()
			log.Info(line, "stream", "stderr")
		})
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if lastErr != "" {
			return fmt.Errorf("%s failed: %w: %s", c.String(), err, lastErr)
		}
		return fmt.Errorf("%s failed: %w", c.String(), err)
	}
	return nil
}

func stream(r io.Reader, c Command, emit func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		for _, secret := range c.Redact {
			if secret != "" {
				line = strings.ReplaceAll(line, secret, "***")
			}
		}
		emit(line)
	}
}
