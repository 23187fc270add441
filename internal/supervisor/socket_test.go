package supervisor

import (
	"path/filepath"
	"testing"
)

func TestSocketBindTCPWildcardPort(t *testing.T) {
	sk := newSocket("sk")
	sk.host = "127.0.0.1"
	sk.service = "0"

	if err := sk.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer sk.Unbind()

	if !sk.bound() {
		t.Fatal("socket should be bound")
	}
	if sk.Addr() == "" {
		t.Fatal("Addr() should report the actually-bound address")
	}
	if sk.Fd() == 0 {
		t.Fatal("Fd() should return a nonzero descriptor once bound")
	}
}

func TestSocketBindUnixPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "admin.sock")

	sk := newSocket("admin")
	sk.service = path

	if err := sk.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer sk.Unbind()

	if !sk.bound() {
		t.Fatal("socket should be bound")
	}
}

func TestSocketDoubleBindRejected(t *testing.T) {
	sk := newSocket("sk")
	sk.host = "127.0.0.1"
	sk.service = "0"

	if err := sk.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer sk.Unbind()

	if err := sk.Bind(); err == nil {
		t.Fatal("second Bind() on the same name should be rejected")
	}
}

func TestSocketUnbindIdempotent(t *testing.T) {
	sk := newSocket("sk")
	if err := sk.Unbind(); err != nil {
		t.Fatalf("Unbind() on an unbound socket should be a no-op, got %v", err)
	}
}

func TestSocketBindRequiresHostAndService(t *testing.T) {
	sk := newSocket("sk")
	if err := sk.Bind(); err == nil {
		t.Fatal("Bind() with no host/service configured should error")
	}
}
