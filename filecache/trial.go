package filecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/flynn/go-shlex"
)

// DefaultTrialTimeout bounds a check command when the request sets none.
const DefaultTrialTimeout = 10 * time.Minute

// TrialStatus is the lifecycle state of a trial.
type TrialStatus string

const (
	TrialQueued   TrialStatus = "queued"
	TrialRunning  TrialStatus = "running"
	TrialPassed   TrialStatus = "passed"
	TrialFailed   TrialStatus = "failed"
	TrialError    TrialStatus = "error"
	TrialCanceled TrialStatus = "canceled" // removed from the queue before it started
)

// TrialRequest asks for candidate content to be placed into a file and checked.
type TrialRequest struct {
	Path    string        `json:"path"`              // absolute target file
	Content string        `json:"content"`           // full replacement text
	Command string        `json:"command"`           // check command, shell-quoted
	Dir     string        `json:"dir,omitempty"`     // working directory; defaults to the target's directory
	Keep    bool          `json:"keep,omitempty"`    // keep the candidate when the check passes
	Timeout time.Duration `json:"timeout,omitempty"` // nanoseconds; 0 means DefaultTrialTimeout
}

// TrialResult is the outcome of one trial.
type TrialResult struct {
	ID         string        `json:"id"`
	Path       string        `json:"path"`
	Status     TrialStatus   `json:"status"`
	ExitCode   int           `json:"exitCode"`
	Output     string        `json:"output,omitempty"`
	ErrorCount int           `json:"errorCount"`
	Reverted   bool          `json:"reverted"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt,omitzero"`
	FinishedAt time.Time     `json:"finishedAt,omitzero"`
	Duration   time.Duration `json:"duration"`
}

var errCheckTimeout = errors.New("check command timed out")

// Validate checks the request and returns the split check command.
func (r TrialRequest) Validate() ([]string, error) {
	if _, err := checkAbs(r.Path); err != nil {
		return nil, err
	}
	if r.Dir != "" {
		if _, err := checkAbs(r.Dir); err != nil {
			return nil, fmt.Errorf("dir: %w", err)
		}
	}
	args, err := shlex.Split(r.Command)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("check command is empty")
	}
	return args, nil
}

// CountErrors returns how many times "ERROR" appears in build output, case-insensitively.
func CountErrors(output string) int {
	return strings.Count(strings.ToUpper(output), "ERROR")
}

// RunTrial evaluates one candidate against a target file:
// T1. Update the target with the candidate (an existing snapshot stays the undo point)
// T2. Run the check command
// T3. Revert when the check fails, or always unless Keep is set
func RunTrial(ctx context.Context, fc *FileCache, id string, req TrialRequest) TrialResult {
	l := sub("trial")
	res := TrialResult{ID: id, Path: req.Path, Status: TrialRunning, StartedAt: nowFunc()}
	finish := func() TrialResult {
		res.FinishedAt = nowFunc()
		res.Duration = res.FinishedAt.Sub(res.StartedAt)
		l.Info("trial finished", "id", id, "path", req.Path, "status", res.Status,
			"exitCode", res.ExitCode, "errors", res.ErrorCount, "reverted", res.Reverted)
		return res
	}

	args, err := req.Validate()
	if err != nil {
		res.Status = TrialError
		res.Error = err.Error()
		return finish()
	}
	path := filepath.Clean(req.Path)

	// T1: apply candidate
	l.Debug("T1 apply", "id", id, "path", path, "size", len(req.Content))
	if err := fc.Update(ctx, path, req.Content); err != nil {
		res.Status = TrialError
		res.Error = err.Error()
		return finish()
	}

	// T2: check
	dir := req.Dir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTrialTimeout
	}
	l.Debug("T2 check", "id", id, "command", args, "dir", dir)
	code, output, checkErr := runCheck(ctx, args, dir, timeout)
	res.ExitCode = code
	res.Output = output
	res.ErrorCount = CountErrors(output)

	switch {
	case checkErr == nil && code == 0:
		res.Status = TrialPassed
	case checkErr == nil || errors.Is(checkErr, errCheckTimeout):
		res.Status = TrialFailed
	default:
		res.Status = TrialError
	}
	if checkErr != nil {
		res.Error = checkErr.Error()
	}

	// T3: restore the undo point
	if res.Status != TrialPassed || !req.Keep {
		l.Debug("T3 revert", "id", id, "path", path)
		if err := fc.Revert(context.WithoutCancel(ctx), path); err != nil {
			l.Error("trial revert failed", "id", id, "path", path, "err", err)
			res.Error = strings.TrimPrefix(res.Error+"; "+err.Error(), "; ")
		} else {
			res.Reverted = true
		}
	}

	return finish()
}

// runCheck runs the check command. Output is stdout on success and stderr
// (or stdout when stderr is empty) on failure. err is non-nil only when the
// command could not run or timed out.
func runCheck(ctx context.Context, args []string, dir string, timeout time.Duration) (code int, output string, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr == nil {
		return 0, stdout.String(), nil
	}

	output = stderr.String()
	if strings.TrimSpace(output) == "" {
		output = stdout.String()
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return exitErr.ExitCode(), output, fmt.Errorf("%w after %s", errCheckTimeout, timeout)
		}
		return exitErr.ExitCode(), output, nil
	}
	return -1, output, fmt.Errorf("run check: %w", runErr)
}
