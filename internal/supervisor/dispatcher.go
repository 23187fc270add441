package supervisor

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// dispatch implements §4.3: normalize one admin-command line, parse its
// verb, and apply the corresponding mutation or query. Always runs on the
// actor goroutine (called from DispatchSync's posted closure, which is also
// how ApplyConfigLines feeds config-file lines in).
//
// ignoreVoid controls how a blank/comment-only line is reported: the
// config-file loader passes true (it tolerates blank lines by design), any
// other caller — chiefly the interactive admin endpoint — passes false, so
// a void line comes back as the "command is void" error §4.3 specifies.
func (c *Controller) dispatch(line string, hasPriv, ignoreVoid bool) (string, error) {
	norm, void := normalizeLine(line)
	if void {
		if ignoreVoid {
			return "", nil
		}
		return "", errf("command is void")
	}

	fields := splitWS(norm)
	verb := fields[0]

	switch verb {
	case "service":
		return "", c.dispatchRecordAttr(fields, hasPriv, "service")
	case "socket":
		return "", c.dispatchRecordAttr(fields, hasPriv, "socket")
	case "proxy":
		return "", c.dispatchProxyAttr(fields, hasPriv)
	case "console":
		return "", c.dispatchConsoleAttr(fields, hasPriv)
	case "logger":
		return "", c.dispatchLoggerAttr(fields, hasPriv)
	case "command":
		return c.dispatchCommand(fields[1:])
	default:
		return "", errf(fmt.Sprintf("unknown verb %q", verb))
	}
}

// normalizeLine strips a "# ..." comment, trims whitespace, and reports
// whether the resulting line is void (blank).
func normalizeLine(line string) (string, bool) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	return line, line == ""
}

// splitWS splits on runs of whitespace, never returning an empty slice for
// a non-void line (normalizeLine already trimmed).
func splitWS(s string) []string {
	return strings.Fields(s)
}

// splitAttrAssign splits "attr=value" on the first "=", where value may
// itself contain "=" (e.g. env entries) and is returned unparsed.
func splitAttrAssign(s string) (attr, raw string, ok bool) {
	i := strings.IndexByte(s, '=')
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func requirePriv(hasPriv bool) error {
	if !hasPriv {
		return errf("insufficient privilege")
	}
	return nil
}

// dispatchRecordAttr handles `service <name> <attr>=<value>` and
// `socket <name> <attr>=<value>`.
func (c *Controller) dispatchRecordAttr(fields []string, hasPriv bool, kind string) error {
	if err := requirePriv(hasPriv); err != nil {
		return err
	}
	if len(fields) < 3 {
		return errf(fmt.Sprintf("%s: expected <name> <attr>=<value>", kind))
	}
	name := fields[1]
	attr, raw, ok := splitAttrAssign(strings.Join(fields[2:], " "))
	if !ok {
		return errf(fmt.Sprintf("%s: malformed attribute assignment", kind))
	}

	switch kind {
	case "service":
		svc, err := c.findOrCreateService(name)
		if err != nil {
			return err
		}
		return setServiceAttr(svc, attr, raw)
	case "socket":
		sk, err := c.findOrCreateSocket(name)
		if err != nil {
			return err
		}
		return setSocketAttr(sk, attr, raw)
	default:
		return errf("unreachable")
	}
}

// dispatchProxyAttr handles `proxy <name> <attr>=<value>` and the special
// `proxy <name> service <svcname>` binding form.
func (c *Controller) dispatchProxyAttr(fields []string, hasPriv bool) error {
	if err := requirePriv(hasPriv); err != nil {
		return err
	}
	if len(fields) < 3 {
		return errf("proxy: expected <name> <attr>=<value>")
	}
	name := fields[1]
	p, err := c.findOrCreateProxy(name)
	if err != nil {
		return err
	}

	rest := fields[2:]
	if rest[0] == "service" && len(rest) >= 2 && !strings.Contains(rest[1], "=") {
		svcName := rest[1]
		svc, err := c.findOrCreateService(svcName)
		if err != nil {
			return err
		}
		svc.proxyName = name
		p.bindService(svcName)
		return nil
	}

	attr, raw, ok := splitAttrAssign(strings.Join(rest, " "))
	if !ok {
		return errf("proxy: malformed attribute assignment")
	}
	return setProxyAttr(p, attr, raw)
}

func (c *Controller) dispatchConsoleAttr(fields []string, hasPriv bool) error {
	if err := requirePriv(hasPriv); err != nil {
		return err
	}
	if len(fields) < 2 {
		return errf("console: expected <attr>=<value>")
	}
	attr, raw, ok := splitAttrAssign(strings.Join(fields[1:], " "))
	if !ok {
		return errf("console: malformed attribute assignment")
	}
	return setConsoleAttr(&c.consoleOpts, attr, raw)
}

func (c *Controller) dispatchLoggerAttr(fields []string, hasPriv bool) error {
	if err := requirePriv(hasPriv); err != nil {
		return err
	}
	if len(fields) < 2 {
		return errf("logger: expected <attr>=<value>")
	}
	attr, raw, ok := splitAttrAssign(strings.Join(fields[1:], " "))
	if !ok {
		return errf("logger: malformed attribute assignment")
	}
	return setLoggerAttr(c, attr, raw)
}

// ApplyConfigLines feeds a batch of already-ordered config-file lines
// (see internal/cfgfile) through the dispatcher with full privilege, in
// order, stopping at the first error. Safe to call once Run is draining
// the actor loop; each line is a round trip through DispatchSync.
func (c *Controller) ApplyConfigLines(lines []string) error {
	for _, line := range lines {
		if _, err := c.DispatchSync(line, true, true); err != nil {
			return fmt.Errorf("config line %q: %w", line, err)
		}
	}
	return nil
}

func zapLevelFromString(s string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return lvl, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}
