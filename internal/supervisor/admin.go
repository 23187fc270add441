package supervisor

import (
	"bufio"
	"net"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cfreak/controlfreak/pkg/fmtt"
)

// Admin is the stream-oriented admin endpoint of §4.4: one command per
// line, CRLF-terminated, answered with zero or more response lines
// followed by a terminator line ("OK" or "ERROR: <reason>").
type Admin struct {
	log  *zap.Logger
	ctrl *Controller
	full bool

	ln   net.Listener
	addr string
}

// NewAdmin constructs an endpoint bound to nothing yet; Start performs the
// actual bind (the endpoint "is created in a stopped state" per §4.4).
func NewAdmin(ctrl *Controller, log *zap.Logger, opts consoleOptions) *Admin {
	return &Admin{log: log.Named("admin"), ctrl: ctrl, full: opts.full}
}

// Start binds the endpoint and begins accepting connections on a background
// goroutine. Returns the actually-bound address (the "prepare callback" of
// §4.4 for wildcard-port binds).
func (a *Admin) Start(network, address string) (string, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return "", err
	}
	a.ln = ln
	a.addr = ln.Addr().String()
	go a.serve()
	return a.addr, nil
}

// Stop closes the listener; connections already accepted run to completion
// or until their client disconnects.
func (a *Admin) Stop() error {
	if a.ln == nil {
		return nil
	}
	return a.ln.Close()
}

func (a *Admin) serve() {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			return // listener closed
		}
		go a.handleConn(conn)
	}
}

func (a *Admin) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	connID := uuid.New().String()
	log := a.log.With(zap.String("conn", connID), zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("admin connection opened")
	defer log.Debug("admin connection closed")

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		if strings.TrimSpace(line) == "exit" {
			return
		}

		body, dispatchErr := a.ctrl.DispatchSync(line, a.full, false)
		if dispatchErr != nil {
			if ce := log.Check(zap.DebugLevel, "admin command failed"); ce != nil {
				ce.Write(zap.String("line", line), zap.String("chain", fmtt.ErrChain(dispatchErr)), zap.String("dump", fmtt.SpewErr(dispatchErr)))
			}
			if _, err := conn.Write([]byte("ERROR: " + dispatchErr.Error() + "\r\n")); err != nil {
				return
			}
			continue
		}
		if body != "" {
			if _, err := conn.Write([]byte(body + "\r\n")); err != nil {
				return
			}
		}
		if _, err := conn.Write([]byte("OK\r\n")); err != nil {
			return
		}
	}
}
