package supervisor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// dispatchCommand implements `command <verb> <args...>` (§4.3). Returns the
// enumerated body (rows joined by "\r\n", possibly empty) on success.
func (c *Controller) dispatchCommand(args []string) (string, error) {
	if len(args) == 0 {
		return "", errf("command: verb required")
	}
	verb, rest := args[0], args[1:]

	switch verb {
	case "start", "up":
		return "", c.forEachSelected(rest, c.startService)
	case "stop", "down":
		return "", c.forEachSelected(rest, c.stopService)
	case "restart":
		return "", c.forEachSelected(rest, c.restartService)
	case "destroy":
		svcs, err := c.selectServices(rest)
		if err != nil {
			return "", err
		}
		for _, svc := range svcs {
			if err := c.destroyService(svc.name); err != nil {
				return "", err
			}
		}
		return "", nil

	case "proxyup":
		p, err := c.requireProxy(rest)
		if err != nil {
			return "", err
		}
		return "", c.ensureProxyRunning(p)
	case "proxydown":
		p, err := c.requireProxy(rest)
		if err != nil {
			return "", err
		}
		c.shutdownProxy(p)
		return "", nil

	case "list":
		var lines []string
		for name := range c.services {
			lines = append(lines, name)
		}
		return strings.Join(lines, "\r\n"), nil

	case "desc":
		svcs, err := c.selectOrAll(rest)
		if err != nil {
			return "", err
		}
		var lines []string
		for _, svc := range svcs {
			tags := make([]string, 0, len(svc.tags))
			for t := range svc.tags {
				tags = append(tags, t)
			}
			lines = append(lines, strings.Join([]string{
				svc.name,
				strings.Join(tags, ","),
				svc.desc,
				proxyStatusText(c, svc.proxyName),
				svc.cmd.String(),
			}, "\t"))
		}
		return strings.Join(lines, "\r\n"), nil

	case "status":
		svcs, err := c.selectOrAll(rest)
		if err != nil {
			return "", err
		}
		var lines []string
		for _, svc := range svcs {
			lines = append(lines, strings.Join([]string{
				svc.name,
				string(svc.state),
				formatPid(svc.pid),
				formatTime(svc.startTime),
				formatTime(svc.stopTime),
				proxyStatusText(c, svc.proxyName),
				svc.failReason,
				svc.runningCmdText(),
			}, "\t"))
		}
		return strings.Join(lines, "\r\n"), nil

	case "pids":
		svcs, err := c.selectOrAll(rest)
		if err != nil {
			return "", err
		}
		var lines []string
		for _, svc := range svcs {
			lines = append(lines, svc.name+"\t"+formatPid(svc.pid))
		}
		return strings.Join(lines, "\r\n"), nil

	case "proxystatus":
		var lines []string
		for name, p := range c.proxies {
			status := "down"
			if p.running {
				status = "up"
			}
			lines = append(lines, strings.Join([]string{name, status, formatPid(p.pid)}, "\t"))
		}
		return strings.Join(lines, "\r\n"), nil

	case "bind":
		if len(rest) != 1 {
			return "", errf("bind: expected <socket>")
		}
		sk, ok := c.getSocket(rest[0])
		if !ok {
			return "", errf(fmt.Sprintf("no such socket %q", rest[0]))
		}
		if err := sk.Bind(); err != nil {
			return "", err
		}
		return sk.Addr(), nil

	case "version":
		return c.version, nil

	case "shutdown":
		c.Shutdown()
		return "", nil

	case "reload_config":
		if c.reloadFn == nil {
			return "", errf("reload_config: not configured")
		}
		// reloadFn feeds each line back through DispatchSync, which posts
		// onto this actor goroutine and waits for the reply, so it runs off
		// the actor; a reload failure is logged rather than returned.
		go func() {
			if err := c.reloadFn(); err != nil {
				c.log.Warn("reload_config failed", zap.Error(err))
			}
		}()
		return "", nil

	default:
		return "", errf(fmt.Sprintf("unknown command verb %q", verb))
	}
}

func (c *Controller) forEachSelected(args []string, op func(*Service) error) error {
	svcs, err := c.selectServices(args)
	if err != nil {
		return err
	}
	for _, svc := range svcs {
		if err := op(svc); err != nil {
			return err
		}
	}
	return nil
}

// selectOrAll treats an empty arg list as the `all` selector, per the
// optional-selector commands (`desc`, `status`, `pids`).
func (c *Controller) selectOrAll(args []string) ([]*Service, error) {
	if len(args) == 0 {
		return c.selectServices([]string{"all"})
	}
	return c.selectServices(args)
}

func (c *Controller) requireProxy(args []string) (*Proxy, error) {
	if len(args) != 1 {
		return nil, errf("expected exactly one proxy name")
	}
	p, ok := c.getProxy(args[0])
	if !ok {
		return nil, errf(fmt.Sprintf("no such proxy %q", args[0]))
	}
	return p, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}
