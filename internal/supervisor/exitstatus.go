package supervisor

import (
	"fmt"
	"os/exec"
	"syscall"
)

// exitOutcome is the classified result of reaping a child: whether the
// process exit counts as "normal" per §4.1, and the human-readable reason
// string surfaced on fail/fatal transitions and in `status` output.
type exitOutcome struct {
	normal bool
	reason string
	status syscall.WaitStatus
}

// classifyExit inspects the *exec.Cmd.Wait() error (nil on a clean exit 0)
// and produces the normal/abnormal classification from §4.1:
//
//	(WIFEXITED && WEXITSTATUS == 0) and (WIFSIGNALED && WTERMSIG == SIGTERM)
//	are "normal"; anything else is "abnormal".
func classifyExit(waitErr error) exitOutcome {
	if waitErr == nil {
		return exitOutcome{normal: true, reason: ""}
	}

	var eerr *exec.ExitError
	if !isExitError(waitErr, &eerr) {
		// Wait() itself failed (e.g. ECHILD) — treat conservatively as abnormal.
		return exitOutcome{normal: false, reason: waitErr.Error()}
	}

	status, ok := eerr.ProcessState.Sys().(syscall.WaitStatus)
	if !ok {
		return exitOutcome{normal: false, reason: eerr.Error()}
	}
	return classifyWaitStatus(status)
}

// classifyWaitStatus classifies a raw wait status, used both for the direct
// spawn path and for reconstituting the status integer reported by a proxy
// host over the wire (§4.2 "stopped" message).
func classifyWaitStatus(status syscall.WaitStatus) exitOutcome {
	switch {
	case status.Exited() && status.ExitStatus() == 0:
		return exitOutcome{normal: true, status: status}
	case status.Signaled() && status.Signal() == syscall.SIGTERM:
		return exitOutcome{normal: true, status: status}
	case status.Exited():
		return exitOutcome{
			normal: false,
			reason: fmt.Sprintf("Exited with error %d", status.ExitStatus()),
			status: status,
		}
	case status.Signaled():
		return exitOutcome{
			normal: false,
			reason: fmt.Sprintf("Received signal %d", int(status.Signal())),
			status: status,
		}
	default:
		return exitOutcome{normal: false, reason: "unknown exit condition", status: status}
	}
}

// combineReason joins an exit-code reason and a signal reason with " - ",
// the form §4.1 gives for a status that reports both. classifyWaitStatus
// produces a single segment and does not call this helper, for direct and
// proxy-relayed statuses alike.
func combineReason(exitReason, signalReason string) string {
	switch {
	case exitReason == "":
		return signalReason
	case signalReason == "":
		return exitReason
	default:
		return exitReason + " - " + signalReason
	}
}

func isExitError(err error, target **exec.ExitError) bool {
	if eerr, ok := err.(*exec.ExitError); ok {
		*target = eerr
		return true
	}
	return false
}
