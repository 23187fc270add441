package supervisor

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cfreak/controlfreak/internal/proxywire"
)

// Proxy is the long-lived child of §4.2: a common parent that preloads code
// and forks/execs services on demand over an asynchronous three-pipe wire.
type Proxy struct {
	log *zap.Logger

	name string
	cmd  Cmd
	env  map[string]string
	auto bool

	pid      int
	cmdW     io.WriteCloser
	running  bool
	services map[string]struct{}

	stopTimer *time.Timer
}

func newProxy(name string, log *zap.Logger) *Proxy {
	return &Proxy{
		log:      log.Named("proxy").With(zap.String("proxy", name)),
		name:     name,
		env:      make(map[string]string),
		auto:     true,
		services: make(map[string]struct{}),
	}
}

func (p *Proxy) bindService(name string) { p.services[name] = struct{}{} }

func (p *Proxy) unbindService(name string) { delete(p.services, name) }

func (p *Proxy) anyServiceUp(c *Controller) bool {
	for name := range p.services {
		if svc, ok := c.services[name]; ok && svc.Up() {
			return true
		}
	}
	return false
}

// sendStop writes a stop Command for one bound service.
func (p *Proxy) sendStop(serviceName string) error {
	if p.cmdW == nil {
		return fmt.Errorf("proxy %s: command pipe not open", p.name)
	}
	return proxywire.WriteCommand(p.cmdW, proxywire.Command{Command: "stop", Name: serviceName})
}

// sendStart writes a start Command describing svc to the proxy host.
func (p *Proxy) sendStart(svc *Service) error {
	if p.cmdW == nil {
		return fmt.Errorf("proxy %s: command pipe not open", p.name)
	}
	_, argv := svc.cmd.exec()
	return proxywire.WriteCommand(p.cmdW, proxywire.Command{
		Command:      "start",
		Name:         svc.name,
		Cmd:          argv,
		Env:          svc.env,
		IgnoreStdout: svc.ignoreStdout,
		IgnoreStderr: svc.ignoreStderr,
		TieStdinTo:   svc.tieStdinTo,
		NoNewSession: svc.noNewSession,
		StopwaitSecs: svc.stopwaitSecs,
	})
}

// ensureProxyRunning implements the auto-start half of §4.2's auto-lifecycle:
// starting the first service on a proxy starts the proxy.
func (c *Controller) ensureProxyRunning(p *Proxy) error {
	if p.running {
		return nil
	}
	return c.startProxy(p)
}

// maybeAutoStopProxy implements the auto-stop half: every time a bound
// service goes down, shut the proxy down if none of its services remain up.
func (c *Controller) maybeAutoStopProxy(p *Proxy) {
	if !p.auto || !p.running {
		return
	}
	if p.anyServiceUp(c) {
		return
	}
	c.shutdownProxy(p)
}

// startServiceViaProxy implements the proxy-bound half of the `start`
// transition: ensure the proxy is up, then hand it a start Command with the
// pid field left empty (§4.2 "Supervisor-side binding").
func (c *Controller) startServiceViaProxy(svc *Service) error {
	p, ok := c.proxies[svc.proxyName]
	if !ok {
		svc.fail("proxy not found: " + svc.proxyName)
		return nil
	}
	if err := c.ensureProxyRunning(p); err != nil {
		svc.fail("proxy start failed: " + err.Error())
		return nil
	}
	p.bindService(svc.name)

	svc.pid = 0 // learned asynchronously from the proxy (I4)
	if err := p.sendStart(svc); err != nil {
		svc.fail("proxy command failed: " + err.Error())
		return nil
	}

	svc.startwaitT.arm(c.post, secondsToDuration(svc.startwaitSecs), func() {
		c.onStartwaitFired(svc)
	})
	return nil
}

// startProxy forks the proxy host process: three inherited pipes at fds
// 3/4/5 (cleared of close-on-exec per §6), every bound socket's descriptor
// announced via _CFK_SOCK_<name>, and background readers that relay status
// and log records back onto the actor goroutine via post.
func (c *Controller) startProxy(p *Proxy) error {
	path, argv := p.cmd.exec()
	if path == "" {
		return errf("proxy " + p.name + ": no cmd configured")
	}

	cmdR, cmdW, err := os.Pipe() // supervisor writes cmdW, proxy reads cmdR
	if err != nil {
		return err
	}
	statusR, statusW, err := os.Pipe() // proxy writes statusW, supervisor reads statusR
	if err != nil {
		return err
	}
	logR, logW, err := os.Pipe() // proxy writes logW, supervisor reads logR
	if err != nil {
		return err
	}

	cmd := exec.Command(path, argv[1:]...)
	cmd.ExtraFiles = []*os.File{cmdR, statusW, logW} // becomes fd 3,4,5 in the child
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	env := make([]string, 0, len(c.baseEnv)+len(p.env)+8)
	env = append(env, c.baseEnv...)
	for k, v := range p.env {
		env = append(env, k+"="+v)
	}
	env = append(env, proxywire.PipeEnv()...)
	for name, sk := range c.sockets {
		if sk.bound() {
			env = append(env, proxywire.SockEnvVar(name, fdSlotFor(cmd, sk)))
		}
	}
	cmd.Env = env

	if err := cmd.Start(); err != nil {
		cmdR.Close()
		cmdW.Close()
		statusR.Close()
		statusW.Close()
		logR.Close()
		logW.Close()
		return err
	}

	// Parent no longer needs the child's ends.
	cmdR.Close()
	statusW.Close()
	logW.Close()

	p.pid = cmd.Process.Pid
	p.cmdW = cmdW
	p.running = true
	p.log.Info("proxy started", zap.Int("pid", p.pid))

	go c.readProxyStatus(p, statusR)
	go c.readProxyLog(p, logR)
	go c.waitProxy(p, cmd)

	return nil
}

// fdSlotFor appends sk's file to cmd.ExtraFiles (if not already present) and
// returns the fd number it will have in the child (ExtraFiles start at 3,
// after stdin/stdout/stderr, in the order appended).
func fdSlotFor(cmd *exec.Cmd, sk *Socket) int {
	for i, f := range cmd.ExtraFiles {
		if f == sk.file {
			return 3 + i
		}
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, sk.file)
	return 3 + len(cmd.ExtraFiles) - 1
}

func (c *Controller) readProxyStatus(p *Proxy, r io.ReadCloser) {
	defer r.Close()
	sr := proxywire.NewStatusReader(r)
	for {
		st, err := sr.Next()
		if err != nil {
			return
		}
		st := st
		c.post(func() { c.handleProxyStatus(p, st) })
	}
}

func (c *Controller) readProxyLog(p *Proxy, r io.ReadCloser) {
	defer r.Close()
	lr := proxywire.NewLogReader(r)
	for {
		l, err := lr.Next()
		if err != nil {
			return
		}
		stream := StreamOut
		kind := LogInfo
		if l.Stream == "err" {
			stream = StreamErr
			kind = LogError
		}
		name := l.Service
		if name == "-" {
			name = p.name
		}
		c.sink.Emit(kind, name, stream, l.Payload)
	}
}

func (c *Controller) waitProxy(p *Proxy, cmd *exec.Cmd) {
	_ = cmd.Wait()
	c.post(func() { c.handleProxyExited(p) })
}

// handleProxyStatus implements §4.2's "Supervisor-side binding": on
// "started", assign the pid and re-arm T(startwait) (whichever of the
// status message or the original timer arrives first is authoritative; the
// timer check ignores itself if the pid has since been assigned — see
// onStartwaitFired). On "stopped", feed the wait status into the same exit
// classification as the direct-spawn path, found defensively by service
// name regardless of current state (§5 "treats out-of-order arrivals
// defensively").
func (c *Controller) handleProxyStatus(p *Proxy, st proxywire.Status) {
	svc, ok := c.services[st.Name]
	if !ok || svc.proxyName != p.name {
		return
	}

	switch st.Status {
	case "started":
		svc.pid = st.Pid
		if svc.state == StateStarting {
			svc.startwaitT.arm(c.post, secondsToDuration(svc.startwaitSecs), func() {
				c.onStartwaitFired(svc)
			})
		}
	case "stopped":
		outcome := classifyWaitStatus(syscall.WaitStatus(st.Wait))
		c.handleChildExit(svc, outcome)
	}
}

// shutdownProxy implements §4.2's proxy shutdown contract.
func (c *Controller) shutdownProxy(p *Proxy) {
	if !p.running {
		return
	}
	for name := range p.services {
		_ = p.sendStop(name)
	}
	if p.cmdW != nil {
		_ = p.cmdW.Close()
		p.cmdW = nil
	}
	sendSignalToTarget(p.pid, sigTERM)

	p.stopTimer = time.AfterFunc(proxyStopTimeout, func() {
		c.post(func() { c.forceProxyDown(p) })
	})
}

// forceProxyDown is the "did it really stop?" timer's expiry action.
func (c *Controller) forceProxyDown(p *Proxy) {
	if !p.running {
		return // already reaped gracefully; no-op
	}
	p.log.Warn("proxy did not exit within grace period; forcing bookkeeping and SIGKILL")
	sendSignalToTarget(p.pid, sigKILL)
	p.running = false
	for name := range p.services {
		if svc, ok := c.services[name]; ok && svc.Up() {
			svc.fail("proxy stopped")
			c.finishShutdownIfReady()
		}
	}
	c.finishShutdownIfReady()
}

// handleProxyExited is the graceful counterpart of forceProxyDown: the
// proxy host's own process has been reaped.
func (c *Controller) handleProxyExited(p *Proxy) {
	if p.stopTimer != nil {
		p.stopTimer.Stop()
		p.stopTimer = nil
	}
	if !p.running {
		return
	}
	p.running = false
	p.log.Info("proxy exited", zap.Int("pid", p.pid))

	// §7 "Proxy crash": if the proxy died without us having initiated
	// shutdown, every bound service that's still up is marked fail.
	for name := range p.services {
		if svc, ok := c.services[name]; ok && svc.Up() {
			svc.fail("proxy stopped")
		}
	}
	c.finishShutdownIfReady()
}

// proxyStatusText renders §6's proxy_as_text format: the proxy name with a
// trailing "!" if the proxy is not running.
func proxyStatusText(c *Controller, proxyName string) string {
	if proxyName == "" {
		return ""
	}
	p, ok := c.proxies[proxyName]
	if !ok || !p.running {
		return proxyName + "!"
	}
	return proxyName
}

func formatPid(pid int) string {
	if pid == 0 {
		return ""
	}
	return strconv.Itoa(pid)
}
