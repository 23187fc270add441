package supervisor

import (
	"time"

	"go.uber.org/zap"
)

// proxyStopTimeout is the bounded "did it really stop?" timer of §4.2.
const proxyStopTimeout = 3 * time.Second

// restartPollMaxTries caps the `restart` polling timer of §4.1 at 150
// tries; its period (stopwait/10) is computed in armRestartPoll.
const restartPollMaxTries = 150

// startService implements the `start` transition of §4.1.
func (c *Controller) startService(svc *Service) error {
	if svc.Up() {
		return errf("already up")
	}
	if svc.cmd.Empty() {
		return errf("no command configured")
	}

	fromBackoff := svc.state == StateBackoff
	svc.backoffT.cancel()
	svc.resetRuntimeForStart(fromBackoff)

	svc.startTime = time.Now()
	svc.stopTime = time.Time{}
	svc.state = StateStarting
	svc.failReason = ""

	if svc.hasProxy() {
		return c.startServiceViaProxy(svc)
	}
	return c.startServiceDirect(svc)
}

// startServiceDirect performs the no-proxy spawn contract of §4.1.
func (c *Controller) startServiceDirect(svc *Service) error {
	if err := c.spawnDirect(svc); err != nil {
		svc.fail("spawn failed: " + err.Error())
		return nil // spawn errors surface as a fail-state transition, not a dispatch error
	}

	svc.startwaitT.arm(c.post, secondsToDuration(svc.startwaitSecs), func() {
		c.onStartwaitFired(svc)
	})
	return nil
}

// onStartwaitFired implements the three `starting, T(startwait) fires, ...`
// rows of §4.1.
func (c *Controller) onStartwaitFired(svc *Service) {
	if svc.state != StateStarting {
		return // superseded edge; no-op per §5
	}
	if svc.pid != 0 {
		svc.state = StateRunning
		svc.backoffRetry = 0
		svc.log.Info("service running", zap.Int("pid", svc.pid))
		return
	}
	if svc.hasProxy() {
		svc.log.Warn("startwait elapsed with no pid yet; consider raising startwait_secs")
		return
	}
	svc.fail("internal error: startwait elapsed with no pid and no proxy")
}

// stopService implements the `stop` transition of §4.1.
func (c *Controller) stopService(svc *Service) error {
	switch svc.state {
	case StateBackoff:
		svc.backoffT.cancel()
		svc.backoffRetry = 0
		svc.wantsDown = true
		svc.state = StateStopped
		svc.stopTime = time.Now()
		c.onServiceWentDown(svc)
		return nil
	case StateStopped, StateFail, StateFatal:
		return errf("already down")
	}

	if !svc.Up() || svc.pid == 0 {
		return errf("already down")
	}

	svc.wantsDown = true
	svc.state = StateStopping
	c.sendTerm(svc)

	svc.stopwaitT.arm(c.post, secondsToDuration(svc.stopwaitSecs), func() {
		c.onStopwaitFired(svc)
	})
	return nil
}

// sendTerm delivers SIGTERM per the §4.1 "Stop contract": to the process
// group when the child owns its own session, to the proxy (stop command)
// when proxied, to the bare pid otherwise.
func (c *Controller) sendTerm(svc *Service) {
	if svc.hasProxy() {
		if p, ok := c.proxies[svc.proxyName]; ok {
			_ = p.sendStop(svc.name)
		}
		return
	}
	sendSignalToTarget(svc.processGroupTarget(), sigTERM)
}

// onStopwaitFired escalates to SIGKILL per §4.1's "stopping, T(stopwait)
// fires, pid still present" row.
func (c *Controller) onStopwaitFired(svc *Service) {
	if svc.state != StateStopping {
		return
	}
	svc.log.Warn("stopwait elapsed; sending SIGKILL")
	if svc.hasProxy() {
		if p, ok := c.proxies[svc.proxyName]; ok {
			// The proxy host runs its own stopwait-then-SIGKILL escalation
			// (armed on the first "stop" it received, keyed off the
			// stopwait_secs carried on the original "start" command); this
			// resend is a defensive nudge, not the only path to SIGKILL.
			_ = p.sendStop(svc.name)
		}
		return
	}
	sendSignalToTarget(svc.processGroupTarget(), sigKILL)
}

// restartService implements the `restart` row of §4.1: stop, then poll for
// down at period stopwait/10 (cap 150 tries), then start.
func (c *Controller) restartService(svc *Service) error {
	if svc.state == StateStopped {
		return errf("not running")
	}
	if svc.Down() {
		// Already down for another reason (fail/fatal/backoff): start now.
		return c.startService(svc)
	}

	if err := c.stopService(svc); err != nil {
		return err
	}

	svc.restartPollN = 0
	c.armRestartPoll(svc)
	return nil
}

func (c *Controller) armRestartPoll(svc *Service) {
	period := secondsToDuration(svc.stopwaitSecs) / 10
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	svc.restartPollT.arm(c.post, period, func() {
		c.onRestartPollFired(svc)
	})
}

func (c *Controller) onRestartPollFired(svc *Service) {
	if svc.Down() {
		svc.restartPollN = 0
		_ = c.startService(svc)
		return
	}
	svc.restartPollN++
	if svc.restartPollN >= restartPollMaxTries {
		svc.log.Error("restart: service never went down; giving up")
		return
	}
	c.armRestartPoll(svc)
}

// handleChildExit implements the `up, child exit, ...` rows of §4.1, both for
// a directly spawned child and for a "stopped" status relayed by a proxy.
func (c *Controller) handleChildExit(svc *Service, outcome exitOutcome) {
	wasState := svc.state
	svc.cancelAllTimers()
	svc.pid = 0
	svc.proc = nil
	svc.stopTime = time.Now()

	switch {
	case outcome.normal:
		svc.normalExit = true
		svc.state = StateStopped
		svc.log.Info("service exited normally")
		c.onServiceWentDown(svc)
		if svc.respawnOnStop && !svc.wantsDown && svc.normalExit {
			_ = c.startService(svc)
		}
		return

	case !svc.respawnOnFail || svc.wantsDown:
		svc.fail(outcome.reason)
		c.onServiceWentDown(svc)
		return

	case wasState == StateStarting:
		svc.backoffRetry++
		if svc.backoffRetry >= svc.respawnMaxRetries {
			svc.state = StateFatal
			svc.failReason = outcome.reason
			svc.log.Error("service reached fatal: max retries exceeded", zap.Int("retries", svc.backoffRetry))
			c.onServiceWentDown(svc)
			return
		}
		svc.state = StateBackoff
		svc.failReason = outcome.reason
		d := backoffDelay(svc.backoffRetry)
		svc.log.Warn("service entering backoff", zap.Int("attempt", svc.backoffRetry), zap.Duration("delay", d))
		svc.backoffT.arm(c.post, d, func() {
			c.onBackoffFired(svc)
		})
		return

	case wasState == StateRunning:
		svc.state = StateFail
		svc.failReason = outcome.reason
		svc.log.Warn("service failed while running; respawning", zap.String("reason", outcome.reason))
		_ = c.startService(svc)
		return

	default: // StateStopping: forced kill path already classified abnormal (SIGKILL)
		svc.fail(outcome.reason)
		c.onServiceWentDown(svc)
		return
	}
}

func (c *Controller) onBackoffFired(svc *Service) {
	if svc.state != StateBackoff {
		return
	}
	_ = c.startService(svc)
}

// onServiceWentDown runs whenever a service reaches a down state
// (stopped/fail/fatal): checks proxy auto-stop eligibility and advances any
// pending controller shutdown.
func (c *Controller) onServiceWentDown(svc *Service) {
	if svc.hasProxy() {
		if p, ok := c.proxies[svc.proxyName]; ok {
			c.maybeAutoStopProxy(p)
		}
	}
	c.finishShutdownIfReady()
}
