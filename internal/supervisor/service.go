package supervisor

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Service is the per-managed-program state machine of §3/§4.1. All methods
// are invoked exclusively from the owning Controller's actor goroutine; the
// type carries no internal locking (§5: "no intra-process mutual exclusion
// is needed on service records").
type Service struct {
	log *zap.Logger

	// --- configuration (§3) ---
	name             string
	cmd              Cmd
	env              map[string]string
	cwd              string
	user             string
	group            string
	priority         int
	desc             string
	tags             map[string]struct{}
	tieStdinTo       string
	ignoreStdout     bool
	ignoreStderr     bool
	startwaitSecs    float64
	stopwaitSecs     float64
	respawnOnFail    bool
	respawnOnStop    bool
	respawnMaxRetries int
	noNewSession     bool
	proxyName        string

	// --- runtime (§3) ---
	state        State
	pid          int
	startTime    time.Time
	stopTime     time.Time
	failReason   string
	backoffRetry int
	wantsDown    bool
	normalExit   bool

	// direct (non-proxied) child handle; nil when proxied or down.
	proc *spawnedProcess

	// timers (I3)
	startwaitT    timerSlot
	stopwaitT     timerSlot
	backoffT      timerSlot
	restartPollT  timerSlot
	restartPollN  int
}

// newService constructs a freshly-created service in state `stopped`, the
// initial state per §4.1.
func newService(name string, log *zap.Logger) *Service {
	return &Service{
		log:               log.Named("service").With(zap.String("service", name)),
		name:              name,
		env:               make(map[string]string),
		tags:              make(map[string]struct{}),
		startwaitSecs:     defaultStartwaitSecs,
		stopwaitSecs:      defaultStopwaitSecs,
		respawnOnFail:     true,
		respawnOnStop:     false,
		respawnMaxRetries: defaultRespawnMaxRetries,
		state:             StateStopped,
	}
}

// Up implements the derived predicate from §3: up ≡ state ∈
// {starting,running,stopping} ∧ pid present.
func (s *Service) Up() bool { return s.state.Up() && s.pid != 0 }

// Down is the complement of Up.
func (s *Service) Down() bool { return !s.Up() }

// hasProxy reports I4: a service with a proxy set never directly holds a
// child process.
func (s *Service) hasProxy() bool { return s.proxyName != "" }

// resetRuntimeForStart clears the fields the `start` transition resets.
func (s *Service) resetRuntimeForStart(fromBackoff bool) {
	s.wantsDown = false
	s.normalExit = false
	if !fromBackoff {
		s.backoffRetry = 0
	}
}

// buildEnv overlays s.env atop the process environment plus the two
// injected variables, per §3/§6: CONTROL_FREAK_ENABLED=1 and
// CONTROL_FREAK_SERVICE=<name> always win over a same-named user key.
//
// A child's getenv resolves a duplicate envp key by first occurrence, not
// last, so merely appending the injected pair after the user overlay does
// not make it win if s.env (or base, inherited from the supervisor's own
// environment) already declares the same key. Strip both keys from
// everything collected so far before appending the injected pair, so it is
// the only occurrence.
func (s *Service) buildEnv(base []string) []string {
	out := make([]string, 0, len(base)+len(s.env)+2)
	out = append(out, base...)
	for k, v := range s.env {
		out = append(out, k+"="+v)
	}
	out = stripEnvKeys(out, "CONTROL_FREAK_ENABLED", "CONTROL_FREAK_SERVICE")
	out = append(out, "CONTROL_FREAK_ENABLED=1", "CONTROL_FREAK_SERVICE="+s.name)
	return out
}

// stripEnvKeys removes every "KEY=..." entry whose KEY matches one of keys,
// preserving the order of the remaining entries.
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

// fail transitions the service to `fail`, recording reason, per the
// "external has_stopped(reason)" and abnormal-exit-without-respawn rows of
// §4.1. Clears pid/child handle (I1).
func (s *Service) fail(reason string) {
	s.cancelAllTimers()
	s.state = StateFail
	s.failReason = reason
	s.pid = 0
	s.proc = nil
	s.stopTime = time.Now()
	s.log.Warn("service failed", zap.String("reason", reason))
}

// cancelAllTimers implements I5: transitioning out of `up` cancels every
// pending timer.
func (s *Service) cancelAllTimers() {
	s.startwaitT.cancel()
	s.stopwaitT.cancel()
	s.backoffT.cancel()
	s.restartPollT.cancel()
	s.restartPollN = 0
}

// runningCmdText renders the `running_cmd` status field: empty when down.
func (s *Service) runningCmdText() string {
	if s.Down() {
		return ""
	}
	return s.cmd.String()
}

// spawnedProcess tracks the direct-spawn (no-proxy) child.
type spawnedProcess struct {
	cmd    *exec.Cmd
	done   chan error // receives cmd.Wait() result exactly once
	pid    int
	stdinC func() // closes child stdin, if owned by us (not fd-inherited)
}

// processGroupTarget returns the kill(2) target for signaling this
// service's child: negative pgid when the child owns its own session
// (§4.1 "Stop contract"), or the bare pid otherwise. It must never resolve
// to the supervisor's own pgid (computed strictly from the child's pid,
// never cached from the supervisor's own group).
func (s *Service) processGroupTarget() int {
	if s.noNewSession {
		return s.pid
	}
	return -s.pid
}

func (s *Service) String() string {
	return fmt.Sprintf("Service{%s state=%s pid=%d}", s.name, s.state, s.pid)
}
