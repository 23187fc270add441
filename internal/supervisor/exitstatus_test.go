package supervisor

import (
	"syscall"
	"testing"
)

func TestClassifyWaitStatusExitZeroIsNormal(t *testing.T) {
	out := classifyWaitStatus(syscall.WaitStatus(0))
	if !out.normal {
		t.Fatalf("exit 0 should classify as normal, got reason %q", out.reason)
	}
}

func TestClassifyWaitStatusExitNonzeroIsAbnormal(t *testing.T) {
	out := classifyWaitStatus(syscall.WaitStatus(1 << 8))
	if out.normal {
		t.Fatal("exit 1 should classify as abnormal")
	}
	if out.reason == "" {
		t.Fatal("expected a non-empty reason for abnormal exit")
	}
}

func TestClassifyWaitStatusSigtermIsNormal(t *testing.T) {
	out := classifyWaitStatus(syscall.WaitStatus(syscall.SIGTERM))
	if !out.normal {
		t.Fatalf("SIGTERM should classify as normal per the stop contract, got reason %q", out.reason)
	}
}

func TestClassifyWaitStatusOtherSignalIsAbnormal(t *testing.T) {
	out := classifyWaitStatus(syscall.WaitStatus(syscall.SIGKILL))
	if out.normal {
		t.Fatal("SIGKILL should classify as abnormal")
	}
}

func TestClassifyExitNilErrorIsNormal(t *testing.T) {
	out := classifyExit(nil)
	if !out.normal || out.reason != "" {
		t.Fatalf("nil Wait() error should be normal with empty reason, got %+v", out)
	}
}

func TestCombineReason(t *testing.T) {
	cases := []struct{ a, b, want string }{
		{"", "", ""},
		{"exit", "", "exit"},
		{"", "sig", "sig"},
		{"exit", "sig", "exit - sig"},
	}
	for _, c := range cases {
		if got := combineReason(c.a, c.b); got != c.want {
			t.Errorf("combineReason(%q, %q) = %q, want %q", c.a, c.b, got, c.want)
		}
	}
}
