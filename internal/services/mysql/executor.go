package mysql

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/fgeck/mysqldumper/internal/backuperr"
)

// Stage is one process of a pipeline, given as an argument vector.
type Stage struct {
	Name string
	Args []string
}

// String renders the stage for logs and errors with the password masked.
func (s Stage) String() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, s.Name)
	for _, arg := range s.Args {
		if strings.HasPrefix(arg, "--password=") {
			arg = "--password=***"
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// Pipeline is an ordered chain of stages where each stage's stdout feeds the
// next stage's stdin. Stdin is read into the first stage and the last stage
// writes to Stdout; both are optional file paths.
type Pipeline struct {
	Stages []Stage
	Stdin  string
	Stdout string
}

// String renders the pipeline in shell notation. It is never executed by a shell.
func (p Pipeline) String() string {
	var b strings.Builder
	for i, st := range p.Stages {
		if i > 0 {
			b.WriteString(" | ")
		}
		b.WriteString(st.String())
		if i == 0 && p.Stdin != "" {
			b.WriteString(" < ")
			b.WriteString(p.Stdin)
		}
	}
	if p.Stdout != "" {
		b.WriteString(" > ")
		b.WriteString(p.Stdout)
	}
	return b.String()
}

// CommandExecutor allows mocking process execution in tests.
type CommandExecutor interface {
	Run(ctx context.Context, p Pipeline) error
}

// DefaultExecutor runs pipelines with os/exec, connecting stages with OS pipes.
type DefaultExecutor struct{}

// Run starts every stage, waits for all of them and returns a
// *backuperr.ProcessError describing the first stage that failed.
//
//nolint:gocognit // start/close/wait ordering for pipes has to stay in one place
func (e *DefaultExecutor) Run(ctx context.Context, p Pipeline) error {
	if len(p.Stages) == 0 {
		return errors.New("empty pipeline")
	}

	cmds := make([]*exec.Cmd, len(p.Stages))
	stderrs := make([]*bytes.Buffer, len(p.Stages))
	for i, st := range p.Stages {
		cmd := exec.CommandContext(ctx, st.Name, st.Args...)
		stderrs[i] = &bytes.Buffer{}
		// exec drains the pipe into the buffer while the process runs.
		cmd.Stderr = stderrs[i]
		cmds[i] = cmd
	}

	if p.Stdin != "" {
		in, err := os.Open(p.Stdin)
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer func() { _ = in.Close() }()
		cmds[0].Stdin = in
	}

	if p.Stdout != "" {
		out, err := os.Create(p.Stdout) //nolint:gosec // output path is resolved by the store
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = out.Close() }()
		cmds[len(cmds)-1].Stdout = out
	}

	var parentEnds []*os.File
	closeParentEnds := func() {
		for _, f := range parentEnds {
			_ = f.Close()
		}
		parentEnds = nil
	}
	for i := 0; i < len(cmds)-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			closeParentEnds()
			return fmt.Errorf("failed to create pipe: %w", err)
		}
		cmds[i].Stdout = w
		cmds[i+1].Stdin = r
		parentEnds = append(parentEnds, r, w)
	}

	started := 0
	var startErr error
	for _, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			startErr = err
			break
		}
		started++
	}

	// Children hold their own copies; ours must go so readers see EOF.
	closeParentEnds()

	waitErrs := make([]error, started)
	for i := 0; i < started; i++ {
		waitErrs[i] = cmds[i].Wait()
	}

	if startErr != nil {
		return &backuperr.ProcessError{
			Command:  p.String(),
			ExitCode: -1,
			Stderr:   fmt.Sprintf("%s: %v", p.Stages[started].Name, startErr),
			Err:      startErr,
		}
	}

	failed := firstFailure(waitErrs)
	if failed < 0 {
		return nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(waitErrs[failed], &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	return &backuperr.ProcessError{
		Command:  p.String(),
		ExitCode: exitCode,
		Stderr:   cleanStderr(stderrs[failed].String()),
		Err:      waitErrs[failed],
	}
}

// firstFailure picks the stage to blame. A stage that exited with a status is
// preferred over one killed by a signal, since upstream stages usually die of
// SIGPIPE when a downstream stage fails.
func firstFailure(errs []error) int {
	fallback := -1
	for i, err := range errs {
		if err == nil {
			continue
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			return i
		}
		if fallback < 0 {
			fallback = i
		}
	}
	return fallback
}

func cleanStderr(s string) string {
	return strings.ToValidUTF8(strings.TrimSpace(s), "�")
}
