package supervisor

import (
	"bufio"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

const (
	sigTERM = syscall.SIGTERM
	sigKILL = syscall.SIGKILL
)

// sendSignalToTarget signals a pid (positive) or process group (negative),
// per Service.processGroupTarget. Errors are swallowed at this layer (the
// child may have already exited); callers that need the pid should consult
// the pending exit event instead of this call's return value.
func sendSignalToTarget(target int, sig syscall.Signal) {
	_ = syscall.Kill(target, sig)
}

// spawnDirect performs the spawn contract of §4.1 for a service with no
// proxy: stdio preparation, fork/exec with a new session (process group)
// unless no_new_session, env overlay, and registration of a waiter
// goroutine that delivers exactly one exit event back to the actor.
//
// Mirrors the teacher's process.go newProcess/Start: Setpgid isolates the
// child into its own process group/session so the group, not just the pid,
// can be signaled on stop.
func (c *Controller) spawnDirect(svc *Service) error {
	path, argv := svc.cmd.exec()
	cmd := exec.Command(path, argv[1:]...)

	if svc.cwd != "" {
		cmd.Dir = svc.cwd
	}
	cmd.Env = svc.buildEnv(c.baseEnv)

	stdin, closeStdin, err := c.prepareStdin(svc)
	if err != nil {
		return err
	}
	cmd.Stdin = stdin

	var stdoutPipe, stderrPipe *os.File
	if !svc.ignoreStdout {
		r, w, perr := os.Pipe()
		if perr != nil {
			return perr
		}
		cmd.Stdout = w
		stdoutPipe = r
		defer w.Close()
	} else {
		cmd.Stdout = devNull()
	}
	if !svc.ignoreStderr {
		r, w, perr := os.Pipe()
		if perr != nil {
			return perr
		}
		cmd.Stderr = w
		stderrPipe = r
		defer w.Close()
	} else {
		cmd.Stderr = devNull()
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: !svc.noNewSession,
	}

	if err := cmd.Start(); err != nil {
		if closeStdin != nil {
			closeStdin()
		}
		return err
	}

	pid := cmd.Process.Pid
	svc.pid = pid
	svc.proc = &spawnedProcess{cmd: cmd, done: make(chan error, 1), pid: pid, stdinC: closeStdin}

	if stdoutPipe != nil {
		go c.drainPipe(svc.name, StreamOut, stdoutPipe)
	}
	if stderrPipe != nil {
		go c.drainPipe(svc.name, StreamErr, stderrPipe)
	}

	go func(proc *spawnedProcess) {
		err := proc.cmd.Wait()
		outcome := classifyExit(err)
		if proc.stdinC != nil {
			proc.stdinC()
		}
		c.post(func() {
			if svc.proc != proc {
				return // superseded by a later spawn of the same service
			}
			c.handleChildExit(svc, outcome)
		})
	}(svc.proc)

	return nil
}

// prepareStdin resolves the child's stdin per §4.1: /dev/null unless
// tie_stdin_to names a bound socket, in which case the socket's listening
// descriptor becomes the child's stdin.
func (c *Controller) prepareStdin(svc *Service) (*os.File, func(), error) {
	if svc.tieStdinTo == "" {
		f := devNull()
		return f, func() { _ = f.Close() }, nil
	}
	sk, ok := c.sockets[svc.tieStdinTo]
	if !ok || !sk.bound() {
		return nil, nil, errf("tie_stdin_to socket not bound: " + svc.tieStdinTo)
	}
	// The socket fd is shared and outlives this spawn; do not close it here.
	return sk.file, nil, nil
}

func devNull() *os.File {
	f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		// /dev/null is always expected to exist on a UNIX host; a failure
		// here indicates a broken environment the caller cannot recover
		// from gracefully, so fall back to a closed pipe end rather than
		// panicking the whole daemon.
		r, _, _ := os.Pipe()
		return r
	}
	return f
}

// drainPipe scans one child stdio stream line-by-line into the log sink,
// mapping stdout→info and stderr→error by default (§4.5).
func (c *Controller) drainPipe(name string, stream Stream, r *os.File) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	kind := LogInfo
	if stream == StreamErr {
		kind = LogError
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		c.sink.Emit(kind, name, stream, line)
	}
	if err := sc.Err(); err != nil {
		c.log.Debug("pipe scanner ended with error", zap.String("service", name), zap.String("stream", string(stream)), zap.Error(err))
	}
}
