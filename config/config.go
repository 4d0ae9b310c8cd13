// Package config parses and validates the daemon's command-line flags into
// an immutable ServerConfig, exactly spec.md §6's flag set plus the
// optional status-surface address.
package config

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// ServerConfig holds the daemon's startup options. It is immutable once
// returned from FromArgs.
type ServerConfig struct {
	MulticastAddr string
	CmdPort       int
	MaxSpace      uint64
	SharedFolder  string
	Timeout       time.Duration
	StatusAddr    string // empty disables the optional status surface
}

const (
	defaultMaxSpace = 52428800
	defaultTimeout  = 5

	minTimeoutSeconds = 1
	maxTimeoutSeconds = 300
)

// FromArgs parses args (typically os.Args) and returns a validated
// ServerConfig, or a configuration error per spec.md §7 suitable for
// printing to stderr before a nonzero exit.
func FromArgs(args []string) (ServerConfig, error) {
	var cfg ServerConfig
	var maxSpace int64
	var timeoutSeconds int

	app := cli.NewApp()
	app.Name = "groupshared"
	app.Usage = "group file-sharing daemon"
	app.HideVersion = true
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "mcast-addr, g",
			Usage:       "IPv4 multicast group address",
			Destination: &cfg.MulticastAddr,
		},
		cli.IntFlag{
			Name:        "cmd-port, p",
			Usage:       "UDP command port",
			Destination: &cfg.CmdPort,
		},
		cli.Int64Flag{
			Name:        "max-space, b",
			Value:       defaultMaxSpace,
			Usage:       "maximum advertised space, in bytes",
			Destination: &maxSpace,
		},
		cli.StringFlag{
			Name:        "shrd-fldr, f",
			Usage:       "shared folder path",
			Destination: &cfg.SharedFolder,
		},
		cli.IntFlag{
			Name:        "timeout, t",
			Value:       defaultTimeout,
			Usage:       "handshake timeout in seconds (1-300)",
			Destination: &timeoutSeconds,
		},
		cli.StringFlag{
			Name:        "status-addr",
			Usage:       "optional host:port for the read-only status HTTP endpoint",
			Destination: &cfg.StatusAddr,
		},
	}

	var validationErr error
	app.Action = func(c *cli.Context) error {
		cfg.MaxSpace = uint64(maxSpace)
		cfg.Timeout = time.Duration(timeoutSeconds) * time.Second
		validationErr = validate(cfg, maxSpace, timeoutSeconds)
		return nil
	}

	if err := app.Run(args); err != nil {
		return ServerConfig{}, errors.Wrap(err, "config: parse flags")
	}
	if validationErr != nil {
		return ServerConfig{}, validationErr
	}
	return cfg, nil
}

func validate(cfg ServerConfig, maxSpace int64, timeoutSeconds int) error {
	if cfg.MulticastAddr == "" {
		return errors.New("config: --mcast-addr is required")
	}
	if ip := net.ParseIP(cfg.MulticastAddr).To4(); ip == nil {
		return errors.Errorf("config: %q is not a valid IPv4 address", cfg.MulticastAddr)
	}
	if cfg.CmdPort <= 0 {
		return errors.New("config: --cmd-port must be > 0")
	}
	if maxSpace < 0 {
		return errors.New("config: --max-space must be >= 0")
	}
	if cfg.SharedFolder == "" {
		return errors.New("config: --shrd-fldr is required")
	}
	info, err := os.Stat(cfg.SharedFolder)
	if err != nil {
		return errors.Wrap(err, "config: --shrd-fldr")
	}
	if !info.IsDir() {
		return errors.Errorf("config: %q is not a directory", cfg.SharedFolder)
	}
	if timeoutSeconds < minTimeoutSeconds || timeoutSeconds > maxTimeoutSeconds {
		return errors.Errorf("config: --timeout must satisfy %d <= t <= %d, got %d", minTimeoutSeconds, maxTimeoutSeconds, timeoutSeconds)
	}
	return nil
}
