// Command cfreak-proxy is a reference proxy host per §4.2: a common parent
// that forks and execs services on demand over the three well-known pipes,
// so that the service family shares whatever this process preloaded before
// any `start` command arrives.
package main

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cfreak/controlfreak/internal/proxywire"
)

func main() {
	cmdR, ok := proxywire.FDFromEnv(proxywire.EnvCommandFD)
	if !ok {
		os.Exit(2)
	}
	statusW, ok := proxywire.FDFromEnv(proxywire.EnvStatusFD)
	if !ok {
		os.Exit(2)
	}
	logW, ok := proxywire.FDFromEnv(proxywire.EnvLogFD)
	if !ok {
		os.Exit(2)
	}

	h := &host{
		statusW:  statusW,
		logW:     logW,
		children: make(map[string]*child),
	}

	cr := proxywire.NewCommandReader(cmdR)
	for {
		cmd, err := cr.Next()
		if err != nil {
			break
		}
		switch cmd.Command {
		case "start":
			h.start(cmd)
		case "stop":
			h.stop(cmd.Name)
		}
	}

	// Command pipe closed (supervisor shutting down): SIGTERM every
	// outstanding child and exit once they've all been reaped.
	h.mu.Lock()
	for _, ch := range h.children {
		_ = syscall.Kill(ch.pgrpTarget(), syscall.SIGTERM)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// host holds this proxy's bookkeeping: running children by service name.
// §4.2 describes a short-lived pid blacklist for a fork/register race; this
// implementation registers a child in h.children before its waiter
// goroutine ever calls Wait, so a "stopped" status can never be produced
// for a pid this host hasn't already recorded, and the race does not arise
// (see DESIGN.md).
type host struct {
	mu       sync.Mutex
	statusW  io.Writer
	logW     io.Writer
	children map[string]*child
	wg       sync.WaitGroup
}

// defaultStopwaitSecs mirrors internal/supervisor's default (§3); used only
// if a "start" command arrives without one set, which the supervisor itself
// never does but a hand-crafted command line might.
const defaultStopwaitSecs = 2.0

type child struct {
	name         string
	pid          int
	noNewSession bool
	stopwaitSecs float64
	killTimer    *time.Timer
}

func (c *child) pgrpTarget() int {
	if c.noNewSession {
		return c.pid
	}
	return -c.pid
}

func (h *host) start(cmd proxywire.Command) {
	if len(cmd.Cmd) == 0 {
		h.writeStatus(proxywire.Status{Status: "stopped", Name: cmd.Name})
		return
	}

	ec := exec.Command(cmd.Cmd[0], cmd.Cmd[1:]...)
	ec.Env = buildEnv(cmd.Env, cmd.Name)
	ec.SysProcAttr = &syscall.SysProcAttr{Setpgid: !cmd.NoNewSession}

	stdin, err := prepareStdin(cmd.TieStdinTo)
	if err == nil {
		ec.Stdin = stdin
	}

	var stdoutR, stderrR *os.File
	if !cmd.IgnoreStdout {
		r, w, _ := os.Pipe()
		ec.Stdout = w
		stdoutR = r
		defer w.Close()
	}
	if !cmd.IgnoreStderr {
		r, w, _ := os.Pipe()
		ec.Stderr = w
		stderrR = r
		defer w.Close()
	}

	if err := ec.Start(); err != nil {
		h.writeStatus(proxywire.Status{Status: "stopped", Name: cmd.Name})
		return
	}

	stopwaitSecs := cmd.StopwaitSecs
	if stopwaitSecs <= 0 {
		stopwaitSecs = defaultStopwaitSecs
	}
	ch := &child{name: cmd.Name, pid: ec.Process.Pid, noNewSession: cmd.NoNewSession, stopwaitSecs: stopwaitSecs}

	h.mu.Lock()
	h.children[cmd.Name] = ch
	h.mu.Unlock()

	if stdoutR != nil {
		go h.relayLog(cmd.Name, "out", stdoutR)
	}
	if stderrR != nil {
		go h.relayLog(cmd.Name, "err", stderrR)
	}

	h.writeStatus(proxywire.Status{Status: "started", Name: cmd.Name, Pid: ch.pid})

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		waitStatus := reap(ec)
		h.mu.Lock()
		delete(h.children, cmd.Name)
		if ch.killTimer != nil {
			ch.killTimer.Stop()
		}
		h.mu.Unlock()
		h.writeStatus(proxywire.Status{Status: "stopped", Name: cmd.Name, Wait: waitStatus})
	}()
}

// stop delivers SIGTERM to the child's process group and arms its own
// stopwait timer, escalating to SIGKILL if the child has not been reaped by
// the time it fires. This proxy host, not the supervisor, holds the real
// process-group handle on a proxied child, so it must own this escalation
// itself (§4.2, §REDESIGN FLAGS) rather than rely solely on the
// supervisor's defensive stop resend.
func (h *host) stop(name string) {
	h.mu.Lock()
	ch, ok := h.children[name]
	if ok && ch.killTimer == nil {
		ch.killTimer = time.AfterFunc(secondsToDuration(ch.stopwaitSecs), func() {
			h.mu.Lock()
			_, stillRunning := h.children[name]
			h.mu.Unlock()
			if stillRunning {
				_ = syscall.Kill(ch.pgrpTarget(), syscall.SIGKILL)
			}
		})
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = syscall.Kill(ch.pgrpTarget(), syscall.SIGTERM)
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

func (h *host) relayLog(name, stream string, r *os.File) {
	defer r.Close()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		h.writeLog(proxywire.LogLine{Stream: stream, Service: name, Payload: sc.Text()})
	}
}

func (h *host) writeStatus(s proxywire.Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = proxywire.WriteStatus(h.statusW, s)
}

func (h *host) writeLog(l proxywire.LogLine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, _ = h.logW.Write([]byte(proxywire.FormatLogLine(l) + "\n"))
}

func buildEnv(overlay map[string]string, name string) []string {
	env := os.Environ()
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	// Duplicate envp keys resolve via first occurrence under getenv, so the
	// overlay's own CONTROL_FREAK_* entries (if any) must be stripped before
	// the injected pair is appended, or they would win instead of it.
	env = stripEnvKeys(env, "CONTROL_FREAK_ENABLED", "CONTROL_FREAK_SERVICE")
	env = append(env, "CONTROL_FREAK_ENABLED=1", "CONTROL_FREAK_SERVICE="+name)
	return env
}

func stripEnvKeys(env []string, keys ...string) []string {
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	out := env[:0:0]
	for _, kv := range env {
		k := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k = kv[:i]
		}
		if _, ok := drop[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func prepareStdin(sockName string) (*os.File, error) {
	if sockName == "" {
		return os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	f, ok := proxywire.FDFromEnv(proxywire.EnvSockPrefix + sockName)
	if !ok {
		return nil, os.ErrNotExist
	}
	return f, nil
}

func reap(ec *exec.Cmd) int {
	err := ec.Wait()
	if err == nil {
		return 0
	}
	if eerr, ok := err.(*exec.ExitError); ok {
		if ws, ok := eerr.ProcessState.Sys().(syscall.WaitStatus); ok {
			return int(ws)
		}
	}
	return -1
}
