package supervisor

import (
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// validName is the §3 naming rule: alphanumeric + "_" + "-", forbidden name "-".
var validName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func isValidName(name string) bool {
	return name != "-" && name != "" && validName.MatchString(name)
}

// Controller is the process-wide singleton of §3: owner of the three
// name-indexed registries (services/sockets/proxies), the admin endpoint,
// and the log sink.
//
// Concurrency model (§5): all mutations run on a single actor goroutine
// (Run). External producers — timers, the child-wait goroutines, proxy
// pipe readers, and admin connections — cross into the actor only through
// post, which enqueues a closure; they never mutate registries directly.
// Command dispatch and state transitions never suspend; only post() itself
// may block on a full event queue, and producers are never the actor
// goroutine itself.
type Controller struct {
	log     *zap.Logger
	baseEnv []string

	services map[string]*Service
	sockets  map[string]*Socket
	proxies  map[string]*Proxy

	sink LogSink

	events chan func()
	quit   chan struct{}

	sg singleflight.Group // coalesces concurrent identical read-only queries; see queryCoalesceKey

	shuttingDown bool

	consoleOpts consoleOptions
	logLevel    zap.AtomicLevel

	reloadFn func() error // set by main; invoked by `command reload_config`

	version string
}

// New constructs a Controller. sink may be nil, in which case a built-in
// in-memory ring sink is used (see logsink.go). logLevel, if the zero value,
// defaults to zap.NewAtomicLevel() (info).
func New(log *zap.Logger, sink LogSink, logLevel zap.AtomicLevel) *Controller {
	if sink == nil {
		sink = newRingLogSink(log, 500)
	}
	if logLevel == (zap.AtomicLevel{}) {
		logLevel = zap.NewAtomicLevel()
	}
	return &Controller{
		log:      log.Named("controller"),
		baseEnv:  os.Environ(),
		services: make(map[string]*Service),
		sockets:  make(map[string]*Socket),
		proxies:  make(map[string]*Proxy),
		sink:     sink,
		events:   make(chan func(), 256),
		quit:     make(chan struct{}),
		logLevel: logLevel,
		version:  "0.1.0",
	}
}

// ConsoleOptions returns a copy of the admin-endpoint configuration
// accumulated so far via `console <attr>=<value>` lines.
func (c *Controller) ConsoleOptions() consoleOptions { return c.consoleOpts }

// AdminNetworkAddress resolves the admin endpoint's bind target per §6:
// explicit host/port or unix path from `console ...` lines if present,
// otherwise the default UNIX socket at <home>/sock.
func (c *Controller) AdminNetworkAddress(home string) (network, address string) {
	opts := c.consoleOpts
	switch {
	case opts.unix != "":
		return "unix", opts.unix
	case opts.host != "" || opts.port != "":
		return "tcp", opts.host + ":" + opts.port
	default:
		return "unix", home + "/sock"
	}
}

// SetReloadFunc registers the callback `command reload_config` invokes.
func (c *Controller) SetReloadFunc(fn func() error) { c.reloadFn = fn }

func (c *Controller) setLogLevel(s string) error {
	lvl, err := zapLevelFromString(s)
	if err != nil {
		return err
	}
	c.logLevel.SetLevel(lvl)
	return nil
}

// Run drains the event queue until Shutdown closes it. Run must execute on
// its own goroutine; it IS the actor thread referred to throughout this
// package's docs.
func (c *Controller) Run() {
	for {
		select {
		case fn, ok := <-c.events:
			if !ok {
				return
			}
			fn()
		case <-c.quit:
			// Drain whatever is already queued before exiting, so that a
			// Shutdown racing with in-flight admin replies doesn't strand
			// a waiting client.
			for {
				select {
				case fn := <-c.events:
					fn()
				default:
					return
				}
			}
		}
	}
}

// post enqueues fn to run on the actor goroutine. Must never be called
// from code already running on the actor goroutine (that would require the
// actor to read its own queue while busy executing fn, a self-deadlock);
// only external goroutines (timers, waiters, pipe readers, admin
// connections) call post.
func (c *Controller) post(fn func()) {
	select {
	case c.events <- fn:
	case <-c.quit:
	}
}

// DispatchSync runs one admin-command line to completion on the actor
// goroutine and returns its synchronous result. Safe to call concurrently
// from many admin connections; each call is serialized by the actor loop.
//
// Read-only query verbs (status/desc/pids/proxystatus/list/version) are
// additionally coalesced through sg: several admin connections issuing the
// identical query line back to back collapse into one actor round trip
// instead of one each.
//
// ignoreVoid is forwarded to dispatch: pass true only from the config-file
// loader path (ApplyConfigLines); every other caller, including the admin
// endpoint, must pass false so a blank/comment-only line is reported rather
// than silently dropped.
func (c *Controller) DispatchSync(line string, hasPriv, ignoreVoid bool) (string, error) {
	type result struct {
		out string
		err error
	}
	run := func() (any, error) {
		reply := make(chan result, 1)
		c.post(func() {
			out, err := c.dispatch(line, hasPriv, ignoreVoid)
			reply <- result{out, err}
		})
		r := <-reply
		return r.out, r.err
	}

	if key, ok := queryCoalesceKey(line, hasPriv); ok {
		v, err, _ := c.sg.Do(key, run)
		out, _ := v.(string)
		return out, err
	}

	v, err := run()
	return v.(string), err
}

// queryCoalesceKey reports whether line is one of the read-only `command`
// verbs safe to coalesce across concurrent callers, and if so a key unique
// to (verb, args, privilege) — privilege is folded in because the `full`
// admin endpoint can see fields a restricted one cannot.
func queryCoalesceKey(line string, hasPriv bool) (string, bool) {
	norm, void := normalizeLine(line)
	if void {
		return "", false
	}
	fields := splitWS(norm)
	if len(fields) < 2 || fields[0] != "command" {
		return "", false
	}
	switch fields[1] {
	case "status", "desc", "pids", "proxystatus", "list", "version":
		priv := "0"
		if hasPriv {
			priv = "1"
		}
		return priv + ":" + norm, true
	default:
		return "", false
	}
}

// --- registries -------------------------------------------------------------

// findOrCreateService implements the §3 find_or_create semantics: returns
// the existing service by name, or creates it in state `stopped` if the
// name is a valid identifier.
func (c *Controller) findOrCreateService(name string) (*Service, error) {
	if svc, ok := c.services[name]; ok {
		return svc, nil
	}
	if !isValidName(name) {
		return nil, errf(fmt.Sprintf("invalid service name %q", name))
	}
	svc := newService(name, c.log)
	c.services[name] = svc
	return svc, nil
}

func (c *Controller) getService(name string) (*Service, bool) {
	svc, ok := c.services[name]
	return svc, ok
}

func (c *Controller) findOrCreateSocket(name string) (*Socket, error) {
	if sk, ok := c.sockets[name]; ok {
		return sk, nil
	}
	if !isValidName(name) {
		return nil, errf(fmt.Sprintf("invalid socket name %q", name))
	}
	sk := newSocket(name)
	c.sockets[name] = sk
	return sk, nil
}

func (c *Controller) getSocket(name string) (*Socket, bool) {
	sk, ok := c.sockets[name]
	return sk, ok
}

func (c *Controller) findOrCreateProxy(name string) (*Proxy, error) {
	if p, ok := c.proxies[name]; ok {
		return p, nil
	}
	if !isValidName(name) {
		return nil, errf(fmt.Sprintf("invalid proxy name %q", name))
	}
	p := newProxy(name, c.log)
	c.proxies[name] = p
	return p, nil
}

func (c *Controller) getProxy(name string) (*Proxy, bool) {
	p, ok := c.proxies[name]
	return p, ok
}

// destroyService requires `down` (§3) and removes the record entirely.
//
// A service in StateBackoff is Down() (it owns no live child) but still has
// an armed backoffT timer; destroying it without disarming that timer lets
// onBackoffFired fire later for a name no longer in c.services and spawn an
// orphaned child (transitions.go's onBackoffFired only checks svc.state,
// not registry membership). Disarm it the same way stopService's
// StateBackoff branch does before removing the record.
func (c *Controller) destroyService(name string) error {
	svc, ok := c.services[name]
	if !ok {
		return errf(fmt.Sprintf("no such service %q", name))
	}
	if svc.Up() {
		return errf(fmt.Sprintf("service %q is up", name))
	}
	if svc.state == StateBackoff {
		svc.backoffT.cancel()
		svc.backoffRetry = 0
		svc.wantsDown = true
		svc.state = StateStopped
		svc.stopTime = time.Now()
	}
	if svc.hasProxy() {
		if p, ok := c.proxies[svc.proxyName]; ok {
			delete(p.services, name)
		}
	}
	delete(c.services, name)
	return nil
}

// --- shutdown ---------------------------------------------------------------

// Shutdown implements the controller-destruction contract of §3: stop every
// service, shut down every proxy, then unbind every socket.
//
// Shutdown runs entirely on the actor goroutine and must not suspend (§5),
// so it only *initiates* teardown here: it sends stop to every up service
// and shutdown to every running proxy, then returns. finishShutdownIfReady
// is called from every down-transition and every proxy-stopped transition
// while shuttingDown is set; once the last service is down and the last
// proxy is stopped, it unbinds every socket concurrently (errgroup, joined
// with multierr — both already part of the dependency stack: multierr
// transitively via zap, errgroup via the same golang.org/x/sync module the
// teacher depends on for singleflight) and closes the done channel that
// Wait() blocks on.
func (c *Controller) Shutdown() {
	if c.shuttingDown {
		return
	}
	c.shuttingDown = true

	for _, svc := range c.services {
		// A service parked in StateBackoff is Down() but still owns a live
		// backoffT timer (§5: cancelling it is an outbound edge like any
		// other); stopService's StateBackoff branch already does exactly
		// that, so route both cases through it rather than only checking
		// Up() and leaving backoff timers armed across shutdown.
		if svc.Up() || svc.state == StateBackoff {
			_ = c.stopService(svc)
		}
	}
	for _, p := range c.proxies {
		if p.running {
			c.shutdownProxy(p)
		}
	}

	c.finishShutdownIfReady()
}

// finishShutdownIfReady unbinds sockets and stops the actor loop once every
// service is down and every proxy has fully stopped. No-op unless
// shuttingDown and that condition holds.
func (c *Controller) finishShutdownIfReady() {
	if !c.shuttingDown {
		return
	}
	for _, svc := range c.services {
		if svc.Up() {
			return
		}
	}
	for _, p := range c.proxies {
		if p.running {
			return
		}
	}

	var eg errgroup.Group
	var mu sync.Mutex
	var errs error
	for name, sk := range c.sockets {
		name, sk := name, sk
		eg.Go(func() error {
			if err := sk.Unbind(); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("unbind %s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	if errs != nil {
		c.log.Warn("errors unbinding sockets during shutdown", zap.Error(errs))
	}

	close(c.quit)
}

// Wait blocks until Shutdown has fully torn down the daemon (equivalently:
// until Run's event loop exits). Intended to be called from main, never
// from the actor goroutine itself.
func (c *Controller) Wait() {
	<-c.quit
}

// RequestShutdown is the thread-safe entry point for initiating shutdown
// from outside the actor goroutine (e.g. a signal handler on main's own
// goroutine). Shutdown itself touches the service/proxy/socket registries
// directly and so must only ever run on the actor goroutine (§5); this
// posts it there and blocks until it has run (or the actor loop has quit).
func (c *Controller) RequestShutdown() {
	done := make(chan struct{})
	c.post(func() {
		c.Shutdown()
		close(done)
	})
	select {
	case <-done:
	case <-c.quit:
	}
}
