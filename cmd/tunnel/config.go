package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/malcolmseyd/dhtunnel/network"
	"github.com/malcolmseyd/dhtunnel/tunnel"
	"github.com/ogier/pflag"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoSecret is returned when neither a secret nor a secret file is given
	ErrNoSecret = errors.New("dhtunnel: a shared secret is required")
	// ErrNoHost is returned when the initiator has nowhere to connect
	ErrNoHost = errors.New("dhtunnel: a host is required unless listening")
)

// Config stores values related to program configuration. It can be loaded
// from a YAML file and then overridden by flags.
type Config struct {
	Listen           bool          `yaml:"listen"`
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Secret           string        `yaml:"secret"`
	SecretFile       string        `yaml:"secret_file"`
	Retries          int           `yaml:"retries"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	Poll             time.Duration `yaml:"poll"`
	LogLevel         string        `yaml:"log_level"`
	TOS              int           `yaml:"tos"`
	ReplayWindow     int           `yaml:"replay_window"`
}

func defaultConfig() Config {
	return Config{
		Port:     network.DefaultPort,
		Retries:  network.DefaultRetries,
		Poll:     100 * time.Millisecond,
		LogLevel: "info",
	}
}

func newConfig() Config {
	config := defaultConfig()
	flags := defaultConfig()

	pflag.Usage = printUsage

	configFile := pflag.StringP("config", "c", "", "read settings from a YAML file, flags take precedence")
	pflag.BoolVarP(&flags.Listen, "listen", "l", false, "wait for the peer to connect instead of connecting to it")
	pflag.IntVarP(&flags.Port, "port", "p", flags.Port, "TCP port to connect to or listen on")
	pflag.StringVarP(&flags.Secret, "secret", "s", "", "pre-shared passphrase")
	pflag.StringVar(&flags.SecretFile, "secret-file", "", "read the pre-shared passphrase from a file")
	pflag.IntVarP(&flags.Retries, "retries", "r", flags.Retries, "refused connection attempts before giving up")
	pflag.DurationVar(&flags.HandshakeTimeout, "handshake-timeout", 0, "give up on the handshake after this long, 0 waits forever")
	pflag.DurationVar(&flags.Poll, "poll", flags.Poll, "how often to check for incoming messages")
	pflag.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "one of debug, info, warn, error")
	pflag.IntVar(&flags.TOS, "tos", 0, "IP type of service byte for the tunnel socket")
	pflag.IntVar(&flags.ReplayWindow, "replay-window", 0, "number of recent messages checked for replays")

	pflag.Parse()

	if *configFile != "" {
		err := loadFile(*configFile, &config)
		if err != nil {
			Fatalln("Error reading config file:", err)
		}
	}

	set := make(map[string]bool)
	pflag.Visit(func(f *pflag.Flag) {
		set[f.Name] = true
	})
	mergeFlags(&config, &flags, set)

	args := pflag.Args()
	if len(args) > 0 {
		host, port, err := splitHost(args[0])
		if err != nil {
			Fatalln("Error parsing host:", err)
		}
		config.Host = host
		if port != 0 && !set["port"] {
			config.Port = port
		}
	}

	err := config.validate()
	if err != nil {
		Eprintln(err)
		printUsage()
		os.Exit(1)
	}
	return config
}

// loadFile reads a YAML config over cfg.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// mergeFlags copies every flag the user actually set from flags into cfg.
func mergeFlags(cfg, flags *Config, set map[string]bool) {
	if set["listen"] {
		cfg.Listen = flags.Listen
	}
	if set["port"] {
		cfg.Port = flags.Port
	}
	if set["secret"] {
		cfg.Secret = flags.Secret
	}
	if set["secret-file"] {
		cfg.SecretFile = flags.SecretFile
	}
	if set["retries"] {
		cfg.Retries = flags.Retries
	}
	if set["handshake-timeout"] {
		cfg.HandshakeTimeout = flags.HandshakeTimeout
	}
	if set["poll"] {
		cfg.Poll = flags.Poll
	}
	if set["log-level"] {
		cfg.LogLevel = flags.LogLevel
	}
	if set["tos"] {
		cfg.TOS = flags.TOS
	}
	if set["replay-window"] {
		cfg.ReplayWindow = flags.ReplayWindow
	}
}

// splitHost accepts HOST or HOST:PORT. A missing port is returned as 0.
func splitHost(s string) (string, int, error) {
	if !strings.Contains(s, ":") {
		return s, 0, nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	// ParseUint can be safely cast to int because of the last argument
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, int(port), nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Poll <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if !c.Listen && c.Host == "" {
		return ErrNoHost
	}
	if c.Secret == "" && c.SecretFile == "" {
		return ErrNoSecret
	}
	_, err := logrus.ParseLevel(c.LogLevel)
	return err
}

// secret returns the passphrase, reading the secret file if one was given.
func (c *Config) secret() (string, error) {
	if c.Secret != "" {
		return c.Secret, nil
	}
	data, err := os.ReadFile(c.SecretFile)
	if err != nil {
		return "", err
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", ErrNoSecret
	}
	return secret, nil
}

// tunnelConfig builds the tunnel's configuration, resolving the host for an
// initiator.
func (c *Config) tunnelConfig() (tunnel.Config, error) {
	secret, err := c.secret()
	if err != nil {
		return tunnel.Config{}, err
	}

	nc := network.Config{
		Role:       network.Initiator,
		Host:       c.Host,
		Port:       uint16(c.Port),
		MaxRetries: c.Retries,
		TOS:        c.TOS,
	}
	if c.Listen {
		nc.Role = network.Responder
	} else {
		addr, err := network.HostToAddr(c.Host)
		if err != nil {
			return tunnel.Config{}, fmt.Errorf("resolve %s: %w", c.Host, err)
		}
		nc.Host = addr.IP.String()
	}

	return tunnel.Config{
		Network:          nc,
		Secret:           secret,
		HandshakeTimeout: c.HandshakeTimeout,
		ReplayWindow:     c.ReplayWindow,
	}, nil
}

func printUsage() {
	Eprintln("Usage: " + os.Args[0] + " [OPTION]... HOST[:PORT]")
	Eprintln("       " + os.Args[0] + " --listen [OPTION]... [ADDRESS[:PORT]]")
	Eprintln("Flags:")
	pflag.PrintDefaults()
	Eprintln("Example:")
	Eprintln("    " + os.Args[0] + " --listen --secret correcthorse")
	Eprintln("    " + os.Args[0] + " --secret correcthorse 192.168.1.20:50002")
}
