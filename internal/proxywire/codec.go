// Package proxywire implements the line-delimited wire formats of §4.2
// shared between the supervisor and a proxy host process: the command pipe
// (fd 3), the status pipe (fd 4), and the log pipe (fd 5).
//
// Each message is one JSON object terminated by "\n"; decoding reuses the
// teacher's strict-decode helper (pkg/jsonx.ParseJSONObject) adapted from
// HTTP request bodies to arbitrary io.Reader framed lines.
package proxywire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cfreak/controlfreak/pkg/jsonx"
)

// Well-known environment variables a proxy host receives at exec, per §4.2
// and §6.
const (
	EnvCommandFD = "_CFK_COMMAND_FD"
	EnvStatusFD  = "_CFK_STATUS_FD"
	EnvLogFD     = "_CFK_LOG_FD"
	EnvSockPrefix = "_CFK_SOCK_"

	CommandFD = 3
	StatusFD  = 4
	LogFD     = 5
)

// Command is a supervisor→proxy message (§4.2 "Command").
type Command struct {
	Command      string            `json:"command"` // "start" | "stop"
	Name         string            `json:"name,omitempty"`
	Cmd          []string          `json:"cmd,omitempty"` // always sent as argv; shell strings are pre-resolved to `/bin/sh -c <str>`
	Env          map[string]string `json:"env,omitempty"`
	IgnoreStdout bool              `json:"ignore_stdout,omitempty"`
	IgnoreStderr bool              `json:"ignore_stderr,omitempty"`
	TieStdinTo   string            `json:"tie_stdin_to,omitempty"`
	NoNewSession bool              `json:"no_new_session,omitempty"`
	// StopwaitSecs is the service's configured graceful-stop grace period,
	// carried on "start" so the proxy host can run its own SIGTERM→SIGKILL
	// escalation timer (§4.2, §REDESIGN FLAGS) rather than being a bare
	// SIGTERM relay on "stop".
	StopwaitSecs float64 `json:"stopwait_secs,omitempty"`
}

// Status is a proxy→supervisor message (§4.2 "Status").
type Status struct {
	Status string `json:"status"` // "started" | "stopped"
	Name   string `json:"name"`
	Pid    int    `json:"pid,omitempty"`        // set for "started"
	Wait   int    `json:"wait_status,omitempty"` // raw wait(2) status, set for "stopped"
}

// WriteCommand writes one framed Command line.
func WriteCommand(w io.Writer, c Command) error {
	return writeJSONLine(w, c)
}

// WriteStatus writes one framed Status line.
func WriteStatus(w io.Writer, s Status) error {
	return writeJSONLine(w, s)
}

func writeJSONLine(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// CommandReader reads line-delimited Command objects off the supervisor's
// write end of the command pipe, from the proxy host's perspective.
type CommandReader struct{ sc *bufio.Scanner }

func NewCommandReader(r io.Reader) *CommandReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &CommandReader{sc: sc}
}

func (cr *CommandReader) Next() (Command, error) {
	if !cr.sc.Scan() {
		if err := cr.sc.Err(); err != nil {
			return Command{}, err
		}
		return Command{}, io.EOF
	}
	var c Command
	if err := jsonx.ParseJSONObject(strings.NewReader(cr.sc.Text()), &c); err != nil {
		return Command{}, fmt.Errorf("malformed command line: %w", err)
	}
	return c, nil
}

// StatusReader reads line-delimited Status objects, from the supervisor's
// perspective reading the status pipe.
type StatusReader struct{ sc *bufio.Scanner }

func NewStatusReader(r io.Reader) *StatusReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &StatusReader{sc: sc}
}

func (sr *StatusReader) Next() (Status, error) {
	if !sr.sc.Scan() {
		if err := sr.sc.Err(); err != nil {
			return Status{}, err
		}
		return Status{}, io.EOF
	}
	var s Status
	if err := jsonx.ParseJSONObject(strings.NewReader(sr.sc.Text()), &s); err != nil {
		return Status{}, fmt.Errorf("malformed status line: %w", err)
	}
	return s, nil
}

// LogLine is one decoded proxy log-pipe record: "<stream>:<svcname-or-"-">:<payload>".
type LogLine struct {
	Stream  string // "out" | "err"
	Service string // "-" when not attributable to a single service
	Payload string
}

// ParseLogLine decodes one raw log-pipe text line per §4.2.
func ParseLogLine(line string) (LogLine, error) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return LogLine{}, fmt.Errorf("malformed log line: %q", line)
	}
	return LogLine{Stream: parts[0], Service: parts[1], Payload: parts[2]}, nil
}

// FormatLogLine encodes a LogLine back to wire form, used by the proxy host.
func FormatLogLine(l LogLine) string {
	return l.Stream + ":" + l.Service + ":" + l.Payload
}

// LogReader reads line-delimited log records from the log pipe.
type LogReader struct{ sc *bufio.Scanner }

func NewLogReader(r io.Reader) *LogReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &LogReader{sc: sc}
}

func (lr *LogReader) Next() (LogLine, error) {
	if !lr.sc.Scan() {
		if err := lr.sc.Err(); err != nil {
			return LogLine{}, err
		}
		return LogLine{}, io.EOF
	}
	return ParseLogLine(lr.sc.Text())
}
