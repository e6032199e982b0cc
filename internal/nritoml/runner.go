package nritoml

import (
	"bytes"
	"fmt"
	"os/exec"
)

// Runner executes host commands, optionally entering a target PID's
// namespaces first via nsenter. Grounded on
// original_source/crates/nri-init/src/cmd.rs's Runner enum, which lets
// nri-init run detection/restart commands against the real host even
// when the binary itself runs inside a container.
type Runner struct {
	nsenterTarget string // empty means run locally
}

// DefaultRunner builds a Runner. An empty nsenterTarget runs commands
// directly; a non-empty one runs them via
// nsenter --target <pid> --mount --uts --ipc --net --pid -- <cmd>,
// matching cmd.rs's Nsenter variant.
func DefaultRunner(nsenterTarget string) Runner {
	return Runner{nsenterTarget: nsenterTarget}
}

// RunCapture runs program with args, returning its exit code and
// captured stdout/stderr. Mirrors cmd.rs's run_capture.
func (r Runner) RunCapture(program string, args ...string) (code int, stdout, stderr string, err error) {
	prog := program
	argv := args
	if r.nsenterTarget != "" {
		prog = "nsenter"
		argv = append([]string{"--target", r.nsenterTarget, "--mount", "--uts", "--ipc", "--net", "--pid", "--", program}, args...)
	}

	cmd := exec.Command(prog, argv...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	runErr := cmd.Run()

	code = 0
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if runErr != nil {
		return -1, outBuf.String(), errBuf.String(), fmt.Errorf("run %s: %w", program, runErr)
	}
	return code, outBuf.String(), errBuf.String(), nil
}

// RunOk runs program with args and returns stdout, failing if the
// command exits non-zero. Mirrors cmd.rs's run_ok.
func (r Runner) RunOk(program string, args ...string) (string, error) {
	code, stdout, stderr, err := r.RunCapture(program, args...)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("%s %v -> %d: %s", program, args, code, stderr)
	}
	return stdout, nil
}
