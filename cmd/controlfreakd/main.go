package main

import (
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cfreak/controlfreak/internal/cfgfile"
	"github.com/cfreak/controlfreak/internal/supervisor"
)

type cli struct {
	Home       string `help:"Home directory (default \${HOME}/.controlfreak)."`
	Config     string `help:"Config file to load at startup."`
	Foreground bool   `help:"Do not daemonize; log to stderr." short:"f"`
	Listen     string `help:"Admin endpoint address override, e.g. tcp:127.0.0.1:9001."`
	LogLevel   string `help:"Initial log level." default:"info"`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Name("controlfreakd"), kong.Description("UNIX process supervisor"))

	logLevel := zap.NewAtomicLevel()
	if err := setInitialLevel(logLevel, c.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = logLevel
	logCfg.EncoderConfig.TimeKey = ""
	logCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logCfg.DisableStacktrace = true
	if !c.Foreground {
		logCfg = zap.NewProductionConfig()
		logCfg.Level = logLevel
	}
	log := zap.Must(logCfg.Build())
	defer log.Sync()
	log = log.Named("main")

	home, err := resolveHome(c.Home)
	if err != nil {
		log.Fatal("resolving home directory", zap.Error(err))
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		log.Fatal("creating home directory", zap.Error(err))
	}
	os.Setenv("CONTROL_FREAK_HOME", home)

	ctrl := supervisor.New(log, nil, logLevel)
	ctrl.SetReloadFunc(func() error {
		if c.Config == "" {
			return fmt.Errorf("no config file configured")
		}
		lines, err := cfgfile.Load(c.Config, home)
		if err != nil {
			return err
		}
		return ctrl.ApplyConfigLines(lines)
	})

	go ctrl.Run()

	if c.Config != "" {
		lines, err := cfgfile.Load(c.Config, home)
		if err != nil {
			log.Fatal("loading config", zap.Error(err))
		}
		if err := ctrl.ApplyConfigLines(lines); err != nil {
			log.Fatal("applying config", zap.Error(err))
		}
	}

	network, address := ctrl.AdminNetworkAddress(home)
	if c.Listen != "" {
		network, address = splitListenFlag(c.Listen)
	}
	admin := supervisor.NewAdmin(ctrl, log, ctrl.ConsoleOptions())
	boundAddr, err := admin.Start(network, address)
	if err != nil {
		log.Fatal("starting admin endpoint", zap.Error(err))
	}
	log.Info("admin endpoint listening", zap.String("network", network), zap.String("address", boundAddr))

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGUSR1:
			log.Info("SIGUSR1 received: log reinit requested")
			// The built-in ring sink has no external config to reinit; a
			// production log backend plugged in via supervisor.LogSink
			// would re-read its own configuration here.
		default:
			log.Info("shutting down", zap.String("signal", sig.String()))
			_ = admin.Stop()
			ctrl.RequestShutdown()
			ctrl.Wait()
			return
		}
	}
}

func setInitialLevel(lvl zap.AtomicLevel, s string) error {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", s, err)
	}
	lvl.SetLevel(l)
	return nil
}

func resolveHome(home string) (string, error) {
	if home != "" {
		return home, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return filepath.Join(u.HomeDir, ".controlfreak"), nil
}

// splitListenFlag parses --listen's "tcp:host:port" or "unix:path" form.
func splitListenFlag(listen string) (network, address string) {
	parts := strings.SplitN(listen, ":", 2)
	if len(parts) != 2 {
		return "unix", listen
	}
	return parts[0], parts[1]
}
