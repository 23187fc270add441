package proxywire

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ClearCloexec drops FD_CLOEXEC on fd so it survives exec into the proxy
// host or a directly-spawned service, per §6's fd-inheritance requirement.
func ClearCloexec(fd uintptr) error {
	_, err := unix.FcntlInt(fd, unix.F_SETFD, 0)
	return err
}

// SockEnvVar renders the _CFK_SOCK_<name> environment variable announcing
// an inherited listening socket's descriptor number to the proxy host.
func SockEnvVar(name string, fd int) string {
	return fmt.Sprintf("%s%s=%d", EnvSockPrefix, name, fd)
}

// PipeEnv renders the three well-known command/status/log fd environment
// variables for a freshly-forked proxy host, per §4.2.
func PipeEnv() []string {
	return []string{
		fmt.Sprintf("%s=%d", EnvCommandFD, CommandFD),
		fmt.Sprintf("%s=%d", EnvStatusFD, StatusFD),
		fmt.Sprintf("%s=%d", EnvLogFD, LogFD),
	}
}

// FDFromEnv parses a _CFK_* fd environment variable's value, used by the
// proxy-host binary at startup to recover its inherited pipes.
func FDFromEnv(name string) (*os.File, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil, false
	}
	var fd int
	if _, err := fmt.Sscanf(v, "%d", &fd); err != nil {
		return nil, false
	}
	return os.NewFile(uintptr(fd), name), true
}
