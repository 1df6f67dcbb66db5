package gfzrnx

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// Runner runs an external executable with the given arguments.
// A non-zero exit status is returned as error.
type Runner interface {
	Run(executable string, args ...string) error
}

// ExitError is returned by ExecRunner if the process exits with a non-zero status.
type ExitError struct {
	Executable string
	Code       int
	Stderr     string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: rc:%d", e.Executable, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// ExecRunner runs executables as child processes.
type ExecRunner struct{}

// Run starts executable and waits for it to finish.
func (ExecRunner) Run(executable string, args ...string) error {
	cmd := exec.Command(executable, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// Launch as new process group so that signals (ex: SIGINT) are not sent also the the child process.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // linux
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{
			Executable: executable,
			Code:       exitErr.ExitCode(),
			Stderr:     strings.TrimSpace(stderr.String()),
		}
	}
	return err
}
