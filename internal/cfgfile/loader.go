// Package cfgfile implements the configuration-file grammar of §6: one
// admin-command line per line, "#" comments, blank lines ignored, and a
// "${BASE}" token substituted with a caller-supplied base directory. The
// core treats this package purely as a producer of admin-command lines fed
// to the dispatcher; it has no dependency back on the supervisor package.
package cfgfile

import (
	"bufio"
	"os"
	"strings"
)

// Load reads path and returns its lines reordered so that every `logger ...`
// line comes first (applied before any service or socket, per §6), followed
// by the remaining lines in file order. Comments and blank lines are
// dropped; "${BASE}" is substituted with base in every line.
func Load(path, base string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var loggerLines, otherLines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = strings.ReplaceAll(line, "${BASE}", base)

		if strings.HasPrefix(line, "logger ") || line == "logger" {
			loggerLines = append(loggerLines, line)
		} else {
			otherLines = append(otherLines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	return append(loggerLines, otherLines...), nil
}
