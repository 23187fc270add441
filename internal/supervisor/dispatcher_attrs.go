package supervisor

import (
	"fmt"
	"strconv"
	"strings"
)

// parseRHS splits an attribute assignment's value per §4.3: a `[...]` value
// is a structured list (vector), a bare value is unquoted if wrapped in a
// single matching pair of quotes.
func parseRHS(raw string) (scalar string, vector []string, isVector bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		inner := raw[1 : len(raw)-1]
		if strings.TrimSpace(inner) == "" {
			return "", []string{}, true
		}
		parts := strings.Split(inner, ",")
		out := make([]string, len(parts))
		for i, p := range parts {
			out[i] = unquote(strings.TrimSpace(p))
		}
		return "", out, true
	}
	return unquote(raw), nil, false
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// parseBool accepts the token set from §4.3.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "enabled", "yes":
		return true, nil
	case "0", "false", "off", "disabled", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}

// setServiceAttr implements the §9 "static table of typed setters" for
// Service. attr is the token before "=", raw is everything after it
// (unparsed, may be empty to unset).
func setServiceAttr(svc *Service, attr, raw string) error {
	scalar, vector, isVector := parseRHS(raw)

	switch attr {
	case "cmd":
		if raw == "" {
			svc.cmd = Cmd{}
			return nil
		}
		if isVector {
			svc.cmd = Cmd{Argv: vector}
		} else {
			svc.cmd = Cmd{Shell: scalar}
		}
		return nil

	case "env":
		if raw == "" {
			svc.env = make(map[string]string)
			return nil
		}
		entries := vector
		if !isVector {
			entries = []string{scalar}
		}
		for _, kv := range entries {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("invalid env entry %q", kv)
			}
			svc.env[k] = v
		}
		return nil

	case "cwd":
		svc.cwd = scalar
		return nil
	case "user":
		svc.user = scalar
		return nil
	case "group":
		svc.group = scalar
		return nil
	case "priority":
		if raw == "" {
			svc.priority = 0
			return nil
		}
		n, err := parseInt(scalar)
		if err != nil {
			return fmt.Errorf("invalid priority: %w", err)
		}
		svc.priority = n
		return nil
	case "desc":
		svc.desc = scalar
		return nil
	case "tags":
		svc.tags = make(map[string]struct{})
		entries := vector
		if !isVector && scalar != "" {
			entries = []string{scalar}
		}
		for _, t := range entries {
			svc.tags[t] = struct{}{}
		}
		return nil
	case "tie_stdin_to":
		svc.tieStdinTo = scalar
		return nil
	case "ignore_stdout":
		b, err := parseBool(scalar)
		if err != nil {
			return err
		}
		svc.ignoreStdout = b
		return nil
	case "ignore_stderr":
		b, err := parseBool(scalar)
		if err != nil {
			return err
		}
		svc.ignoreStderr = b
		return nil
	case "startwait_secs":
		if raw == "" {
			svc.startwaitSecs = defaultStartwaitSecs
			return nil
		}
		f, err := parseFloat(scalar)
		if err != nil {
			return fmt.Errorf("invalid startwait_secs: %w", err)
		}
		svc.startwaitSecs = f
		return nil
	case "stopwait_secs":
		if raw == "" {
			svc.stopwaitSecs = defaultStopwaitSecs
			return nil
		}
		f, err := parseFloat(scalar)
		if err != nil {
			return fmt.Errorf("invalid stopwait_secs: %w", err)
		}
		svc.stopwaitSecs = f
		return nil
	case "respawn_on_fail":
		b, err := parseBool(scalar)
		if err != nil {
			return err
		}
		svc.respawnOnFail = b
		return nil
	case "respawn_on_stop":
		b, err := parseBool(scalar)
		if err != nil {
			return err
		}
		svc.respawnOnStop = b
		return nil
	case "respawn_max_retries":
		if raw == "" {
			svc.respawnMaxRetries = defaultRespawnMaxRetries
			return nil
		}
		n, err := parseInt(scalar)
		if err != nil {
			return fmt.Errorf("invalid respawn_max_retries: %w", err)
		}
		svc.respawnMaxRetries = n
		return nil
	case "no_new_session":
		b, err := parseBool(scalar)
		if err != nil {
			return err
		}
		svc.noNewSession = b
		return nil
	case "proxy":
		svc.proxyName = scalar
		return nil
	default:
		return fmt.Errorf("invalid property %q", attr)
	}
}

func setSocketAttr(sk *Socket, attr, raw string) error {
	scalar, _, _ := parseRHS(raw)
	switch attr {
	case "host":
		sk.host = scalar
		return nil
	case "service":
		sk.service = scalar
		return nil
	case "nonblocking":
		b, err := parseBool(scalar)
		if err != nil {
			return err
		}
		sk.nonblocking = b
		return nil
	case "listen_qsize":
		if raw == "" {
			sk.listenQsize = 128
			return nil
		}
		n, err := parseInt(scalar)
		if err != nil {
			return fmt.Errorf("invalid listen_qsize: %w", err)
		}
		sk.listenQsize = n
		return nil
	default:
		return fmt.Errorf("invalid property %q", attr)
	}
}

func setProxyAttr(p *Proxy, attr, raw string) error {
	scalar, vector, isVector := parseRHS(raw)
	switch attr {
	case "cmd":
		if raw == "" {
			p.cmd = Cmd{}
			return nil
		}
		if isVector {
			p.cmd = Cmd{Argv: vector}
		} else {
			p.cmd = Cmd{Shell: scalar}
		}
		return nil
	case "env":
		if raw == "" {
			p.env = make(map[string]string)
			return nil
		}
		entries := vector
		if !isVector {
			entries = []string{scalar}
		}
		for _, kv := range entries {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("invalid env entry %q", kv)
			}
			p.env[k] = v
		}
		return nil
	case "auto":
		b, err := parseBool(scalar)
		if err != nil {
			return err
		}
		p.auto = b
		return nil
	default:
		return fmt.Errorf("invalid property %q", attr)
	}
}

// consoleOptions holds the §4.4 admin-endpoint configuration assembled by
// `console <attr>=<value>` lines, applied before the endpoint starts.
type consoleOptions struct {
	host string
	port string
	unix string
	full bool
}

func setConsoleAttr(opts *consoleOptions, attr, raw string) error {
	scalar, _, _ := parseRHS(raw)
	switch attr {
	case "host":
		opts.host = scalar
		return nil
	case "port":
		opts.port = scalar
		return nil
	case "unix":
		opts.unix = scalar
		return nil
	case "full":
		b, err := parseBool(scalar)
		if err != nil {
			return err
		}
		opts.full = b
		return nil
	default:
		return fmt.Errorf("invalid property %q", attr)
	}
}

func setLoggerAttr(c *Controller, attr, raw string) error {
	scalar, _, _ := parseRHS(raw)
	switch attr {
	case "level":
		return c.setLogLevel(scalar)
	default:
		return fmt.Errorf("invalid property %q", attr)
	}
}
