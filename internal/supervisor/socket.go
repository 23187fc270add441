package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Socket is the pre-created listening socket of §3: owned by the
// supervisor, its bound descriptor is handed to services at spawn either
// directly (tie_stdin_to) or via fd inheritance into a proxy host
// (_CFK_SOCK_<name>).
type Socket struct {
	name       string
	host       string
	service    string // port or filesystem path, per §3's overloaded field name
	nonblocking bool
	listenQsize int

	ln   net.Listener
	file *os.File // dup'd OS-level descriptor, safe to pass to a child across exec
}

// newSocket constructs an unbound socket record.
func newSocket(name string) *Socket {
	return &Socket{name: name, listenQsize: 128}
}

// bound reports whether Bind has successfully produced a descriptor.
func (s *Socket) bound() bool { return s.ln != nil }

// Bind creates, binds, and marks the socket listening. Bind is idempotent
// w.r.t. names: calling Bind twice on an already-bound socket is rejected
// (§3 "second bind on the same name is rejected").
func (s *Socket) Bind() error {
	if s.bound() {
		return errf(fmt.Sprintf("socket %q is already bound", s.name))
	}
	if s.service == "" || (s.host == "" && !looksLikePath(s.service)) {
		return errf(fmt.Sprintf("socket %q: host/service not configured", s.name))
	}

	network := "tcp"
	addr := net.JoinHostPort(s.host, s.service)
	if s.host == "unix" || s.host == "" && looksLikePath(s.service) {
		network = "unix"
		addr = s.service
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return errf(fmt.Sprintf("bind %s failed: %v", s.name, err))
	}

	file, err := listenerFile(ln)
	if err != nil {
		_ = ln.Close()
		return errf(fmt.Sprintf("socket %s: could not obtain descriptor: %v", s.name, err))
	}

	s.ln = ln
	s.file = file
	return nil
}

// Unbind closes the listening socket. Safe to call on an unbound socket.
func (s *Socket) Unbind() error {
	if !s.bound() {
		return nil
	}
	err := s.ln.Close()
	if s.file != nil {
		_ = s.file.Close()
	}
	s.ln, s.file = nil, nil
	return err
}

// Fd returns the raw descriptor suitable for fd-inheritance into a child
// (close-on-exec already cleared on the dup by listenerFile).
func (s *Socket) Fd() uintptr {
	if s.file == nil {
		return 0
	}
	return s.file.Fd()
}

// Addr returns the actually-bound address, used to answer wildcard-port
// binds (§4.4's "prepare callback").
func (s *Socket) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func looksLikePath(service string) bool {
	return len(service) > 0 && (service[0] == '/' || service[0] == '.')
}

// listenerFile duplicates the listener's underlying fd into an *os.File the
// caller owns independently of the net.Listener. Per §6 "File-descriptor
// inheritance", descriptors passed through exec must have their
// close-on-exec flag explicitly cleared, so listenerFile clears it on the
// dup before returning it.
func listenerFile(ln net.Listener) (*os.File, error) {
	type fileer interface {
		File() (*os.File, error)
	}
	f, ok := ln.(fileer)
	if !ok {
		return nil, fmt.Errorf("listener type %T does not support File()", ln)
	}
	file, err := f.File()
	if err != nil {
		return nil, err
	}
	// File() hands back a dup with FD_CLOEXEC set; clear it so the
	// descriptor survives exec into a child.
	if err := syscallClearCloexec(file.Fd()); err != nil {
		_ = file.Close()
		return nil, err
	}
	return file, nil
}

func syscallClearCloexec(fd uintptr) error {
	_, err := unix.FcntlInt(fd, unix.F_SETFD, 0)
	return err
}
