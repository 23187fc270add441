package supervisor

import (
	"testing"

	"go.uber.org/zap"
)

func TestParseRHSScalar(t *testing.T) {
	scalar, _, isVector := parseRHS(`"hello world"`)
	if isVector {
		t.Fatal("quoted scalar should not parse as a vector")
	}
	if scalar != "hello world" {
		t.Fatalf("parseRHS quoted scalar = %q, want %q", scalar, "hello world")
	}
}

func TestParseRHSVector(t *testing.T) {
	_, vec, isVector := parseRHS(`[a, "b c", d]`)
	if !isVector {
		t.Fatal("bracketed value should parse as a vector")
	}
	want := []string{"a", "b c", "d"}
	if len(vec) != len(want) {
		t.Fatalf("parseRHS vector = %v, want %v", vec, want)
	}
	for i := range want {
		if vec[i] != want[i] {
			t.Fatalf("parseRHS vector = %v, want %v", vec, want)
		}
	}
}

func TestParseRHSEmptyVector(t *testing.T) {
	_, vec, isVector := parseRHS("[]")
	if !isVector {
		t.Fatal("[] should parse as a vector")
	}
	if len(vec) != 0 {
		t.Fatalf("parseRHS([]) = %v, want empty slice", vec)
	}
}

func TestParseBool(t *testing.T) {
	truthy := []string{"1", "true", "TRUE", "on", "enabled", "yes"}
	for _, s := range truthy {
		b, err := parseBool(s)
		if err != nil || !b {
			t.Errorf("parseBool(%q) = %v, %v; want true, nil", s, b, err)
		}
	}
	falsy := []string{"0", "false", "off", "disabled", "no"}
	for _, s := range falsy {
		b, err := parseBool(s)
		if err != nil || b {
			t.Errorf("parseBool(%q) = %v, %v; want false, nil", s, b, err)
		}
	}
	if _, err := parseBool("maybe"); err == nil {
		t.Fatal("parseBool(maybe) should error")
	}
}

func TestSetServiceAttrCmdShell(t *testing.T) {
	svc := newService("s", zap.NewNop())
	if err := setServiceAttr(svc, "cmd", "echo hi"); err != nil {
		t.Fatalf("setServiceAttr(cmd) error: %v", err)
	}
	if svc.cmd.Shell != "echo hi" {
		t.Fatalf("svc.cmd.Shell = %q, want %q", svc.cmd.Shell, "echo hi")
	}
}

func TestSetServiceAttrCmdVector(t *testing.T) {
	svc := newService("s", zap.NewNop())
	if err := setServiceAttr(svc, "cmd", "[/bin/echo, hi]"); err != nil {
		t.Fatalf("setServiceAttr(cmd vector) error: %v", err)
	}
	if len(svc.cmd.Argv) != 2 || svc.cmd.Argv[0] != "/bin/echo" || svc.cmd.Argv[1] != "hi" {
		t.Fatalf("svc.cmd.Argv = %v", svc.cmd.Argv)
	}
}

func TestSetServiceAttrEnv(t *testing.T) {
	svc := newService("s", zap.NewNop())
	if err := setServiceAttr(svc, "env", "[A=1, B=2]"); err != nil {
		t.Fatalf("setServiceAttr(env) error: %v", err)
	}
	if svc.env["A"] != "1" || svc.env["B"] != "2" {
		t.Fatalf("svc.env = %v", svc.env)
	}

	if err := setServiceAttr(svc, "env", "C=3"); err != nil {
		t.Fatalf("setServiceAttr(env scalar) error: %v", err)
	}
	if svc.env["C"] != "3" {
		t.Fatalf("svc.env after scalar add = %v", svc.env)
	}

	if err := setServiceAttr(svc, "env", "bogus"); err == nil {
		t.Fatal("setServiceAttr(env, bogus) should error: missing '='")
	}
}

func TestSetServiceAttrBoolsAndNumbers(t *testing.T) {
	svc := newService("s", zap.NewNop())

	if err := setServiceAttr(svc, "ignore_stdout", "true"); err != nil {
		t.Fatalf("ignore_stdout: %v", err)
	}
	if !svc.ignoreStdout {
		t.Fatal("ignore_stdout should be true")
	}

	if err := setServiceAttr(svc, "startwait_secs", "2.5"); err != nil {
		t.Fatalf("startwait_secs: %v", err)
	}
	if svc.startwaitSecs != 2.5 {
		t.Fatalf("startwaitSecs = %v, want 2.5", svc.startwaitSecs)
	}

	if err := setServiceAttr(svc, "respawn_max_retries", "3"); err != nil {
		t.Fatalf("respawn_max_retries: %v", err)
	}
	if svc.respawnMaxRetries != 3 {
		t.Fatalf("respawnMaxRetries = %d, want 3", svc.respawnMaxRetries)
	}

	if err := setServiceAttr(svc, "respawn_max_retries", "nope"); err == nil {
		t.Fatal("respawn_max_retries=nope should error")
	}
}

func TestSetServiceAttrUnknownProperty(t *testing.T) {
	svc := newService("s", zap.NewNop())
	if err := setServiceAttr(svc, "bogus", "x"); err == nil {
		t.Fatal("unknown attribute should error")
	}
}

func TestSetServiceAttrTagsReplacesSet(t *testing.T) {
	svc := newService("s", zap.NewNop())
	if err := setServiceAttr(svc, "tags", "[a, b]"); err != nil {
		t.Fatalf("tags: %v", err)
	}
	if _, ok := svc.tags["a"]; !ok {
		t.Fatal("expected tag a")
	}
	if _, ok := svc.tags["b"]; !ok {
		t.Fatal("expected tag b")
	}

	if err := setServiceAttr(svc, "tags", "c"); err != nil {
		t.Fatalf("tags (scalar): %v", err)
	}
	if len(svc.tags) != 1 {
		t.Fatalf("tags should be replaced, not merged: %v", svc.tags)
	}
}

func TestSetSocketAttr(t *testing.T) {
	sk := newSocket("sk")
	if err := setSocketAttr(sk, "host", "127.0.0.1"); err != nil {
		t.Fatalf("host: %v", err)
	}
	if sk.host != "127.0.0.1" {
		t.Fatalf("sk.host = %q", sk.host)
	}
	if err := setSocketAttr(sk, "listen_qsize", "256"); err != nil {
		t.Fatalf("listen_qsize: %v", err)
	}
	if sk.listenQsize != 256 {
		t.Fatalf("sk.listenQsize = %d, want 256", sk.listenQsize)
	}
	if err := setSocketAttr(sk, "bogus", "x"); err == nil {
		t.Fatal("unknown socket attribute should error")
	}
}

func TestSetProxyAttr(t *testing.T) {
	p := newProxy("px", zap.NewNop())
	if err := setProxyAttr(p, "cmd", "/usr/bin/host-proc"); err != nil {
		t.Fatalf("cmd: %v", err)
	}
	if p.cmd.Shell != "/usr/bin/host-proc" {
		t.Fatalf("p.cmd.Shell = %q", p.cmd.Shell)
	}
	if err := setProxyAttr(p, "auto", "yes"); err != nil {
		t.Fatalf("auto: %v", err)
	}
	if !p.auto {
		t.Fatal("p.auto should be true")
	}
}

func TestSetConsoleAttr(t *testing.T) {
	var opts consoleOptions
	if err := setConsoleAttr(&opts, "host", "0.0.0.0"); err != nil {
		t.Fatalf("host: %v", err)
	}
	if err := setConsoleAttr(&opts, "port", "9001"); err != nil {
		t.Fatalf("port: %v", err)
	}
	if err := setConsoleAttr(&opts, "full", "true"); err != nil {
		t.Fatalf("full: %v", err)
	}
	if opts.host != "0.0.0.0" || opts.port != "9001" || !opts.full {
		t.Fatalf("opts = %+v", opts)
	}
}
