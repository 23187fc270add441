package supervisor

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/cfreak/controlfreak/internal/proxywire"
)

func TestProxyBindUnbind(t *testing.T) {
	c := newRunningController(t)
	p := newProxy("px", c.log)

	p.bindService("a")
	p.bindService("b")
	if len(p.services) != 2 {
		t.Fatalf("expected 2 bound services, got %d", len(p.services))
	}
	p.unbindService("a")
	if _, ok := p.services["a"]; ok {
		t.Fatal("service a should be unbound")
	}
}

func TestProxyAnyServiceUp(t *testing.T) {
	c := newRunningController(t)
	p := newProxy("px", c.log)
	svc := newService("s", c.log)
	c.services["s"] = svc
	p.bindService("s")

	if p.anyServiceUp(c) {
		t.Fatal("freshly created service should not be up")
	}

	svc.state = StateRunning
	svc.pid = 999999 // dummy, near-certainly-nonexistent: cleanup-time Shutdown signals it
	if !p.anyServiceUp(c) {
		t.Fatal("running service with a pid should count as up")
	}
}

func TestProxyStatusText(t *testing.T) {
	c := newRunningController(t)
	if got := proxyStatusText(c, ""); got != "" {
		t.Fatalf("proxyStatusText(\"\") = %q, want empty", got)
	}

	p := newProxy("px", c.log)
	c.proxies["px"] = p
	if got := proxyStatusText(c, "px"); got != "px!" {
		t.Fatalf("proxyStatusText for a non-running proxy = %q, want %q", got, "px!")
	}

	// A dummy, near-certainly-nonexistent pid: the controller's cleanup-time
	// Shutdown will see this proxy as running and signal it.
	p.pid = 999999
	p.running = true
	if got := proxyStatusText(c, "px"); got != "px" {
		t.Fatalf("proxyStatusText for a running proxy = %q, want %q", got, "px")
	}

	if got := proxyStatusText(c, "nope"); got != "nope!" {
		t.Fatalf("proxyStatusText for an unknown proxy = %q, want %q", got, "nope!")
	}
}

// TestHandleProxyStatusStartedAssignsPid exercises the supervisor-side
// binding of §4.2 directly, without forking a real proxy host: a bound
// service reaches running once its "started" status arrives and startwait
// elapses with a pid present.
func TestHandleProxyStatusStartedAssignsPid(t *testing.T) {
	c := newRunningController(t)

	p := newProxy("px", c.log)
	p.pid = 999999 // dummy: cleanup-time Shutdown signals any running proxy
	p.running = true
	c.proxies["px"] = p

	svc := newService("s", c.log)
	svc.proxyName = "px"
	svc.state = StateStarting
	svc.startwaitSecs = 0.05
	c.services["s"] = svc
	p.bindService("s")

	done := make(chan struct{})
	c.post(func() {
		c.handleProxyStatus(p, proxywire.Status{Status: "started", Name: "s", Pid: 4242})
		close(done)
	})
	<-done

	awaitState(t, c, "s", StateRunning, 2*time.Second)

	var pid int
	done2 := make(chan struct{})
	c.post(func() { pid = c.services["s"].pid; close(done2) })
	<-done2
	if pid != 4242 {
		t.Fatalf("svc.pid = %d, want 4242", pid)
	}
}

// TestHandleProxyStatusStoppedClassifiesExit feeds a synthetic "stopped"
// status through the same exit classification the direct-spawn path uses.
func TestHandleProxyStatusStoppedClassifiesExit(t *testing.T) {
	c := newRunningController(t)

	p := newProxy("px", c.log)
	c.proxies["px"] = p

	svc := newService("s", c.log)
	svc.proxyName = "px"
	svc.state = StateRunning
	svc.pid = 99
	svc.respawnOnFail = false
	c.services["s"] = svc
	p.bindService("s")

	done := make(chan struct{})
	c.post(func() {
		c.handleProxyStatus(p, proxywire.Status{Status: "stopped", Name: "s", Wait: 0})
		close(done)
	})
	<-done

	awaitState(t, c, "s", StateStopped, 2*time.Second)
}

func TestFdSlotForReusesExistingSlot(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	cmd := exec.Command("/bin/true")
	sk := &Socket{name: "sk", file: r}

	slot1 := fdSlotFor(cmd, sk)
	if slot1 != 3 {
		t.Fatalf("first fdSlotFor = %d, want 3", slot1)
	}
	slot2 := fdSlotFor(cmd, sk)
	if slot2 != slot1 {
		t.Fatalf("fdSlotFor should return the same slot for the same socket: got %d and %d", slot1, slot2)
	}

	other := &Socket{name: "sk2", file: w}
	slot3 := fdSlotFor(cmd, other)
	if slot3 != 4 {
		t.Fatalf("fdSlotFor for a second socket = %d, want 4", slot3)
	}
}
