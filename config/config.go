package config

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/searchktools/rpc-server/core"
	"github.com/searchktools/rpc-server/core/acl"
)

// EnvPrefix is stripped from environment variables before they become
// configuration keys, so RPCSERVER_QUEUEDEPTH sets "queuedepth".
const EnvPrefix = "RPCSERVER"

const (
	DefaultPort    = 9332
	DefaultH2CPort = 9333
)

// Config holds all application configuration.
type Config struct {
	Port           int
	H2CPort        int
	Workers        int
	QueueDepth     int
	AllowIPs       []string
	Timeout        int
	MaxBody        int
	MaxConnections int
	StatsInterval  int
	Verbose        bool
	Env            string
	ConfFile       string
}

// New loads configuration in layers: built-in defaults, then the JSON
// config file, then environment variables, then command-line flags.
// Later layers win, so an explicit flag always beats the environment.
func New() *Config {
	cfg := &Config{}

	var allowips string
	flag.IntVar(&cfg.Port, "port", DefaultPort, "JSON-RPC listen port")
	flag.IntVar(&cfg.H2CPort, "h2cport", DefaultH2CPort, "HTTP/2 cleartext frontend port (0 disables)")
	flag.IntVar(&cfg.Workers, "workers", core.DefaultWorkers, "Worker goroutines draining the request queue")
	flag.IntVar(&cfg.QueueDepth, "queuedepth", core.DefaultQueueDepth, "Bound on requests waiting for a free worker")
	flag.StringVar(&allowips, "allowips", "", "Comma-separated subnets allowed to connect (loopback is always allowed)")
	flag.IntVar(&cfg.Timeout, "timeout", int(core.DefaultRequestTimeout/time.Second), "Idle connection timeout (seconds)")
	flag.IntVar(&cfg.MaxBody, "maxbody", core.DefaultMaxBodySize, "Largest accepted request body (bytes)")
	flag.IntVar(&cfg.MaxConnections, "maxconnections", core.DefaultMaxConnections, "Cap on concurrently open sockets")
	flag.IntVar(&cfg.StatsInterval, "statsinterval", 10, "Seconds between pushed stats events (0 disables)")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Log per-connection activity")
	flag.StringVar(&cfg.Env, "env", "development", "Environment (development/production)")
	flag.StringVar(&cfg.ConfFile, "conf", "", "JSON configuration file")

	flag.Parse()

	if allowips != "" {
		cfg.AllowIPs = strings.Split(allowips, ",")
	}

	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	m := NewManager()
	if cfg.ConfFile != "" {
		if err := m.LoadFromJSON(cfg.ConfFile); err != nil {
			log.Fatalf("Config file error: %v", err)
		}
	}
	m.LoadFromEnv(EnvPrefix)
	cfg.applyManager(m, explicit)

	return cfg
}

// applyManager overlays file and environment values onto cfg, skipping
// any knob the user pinned on the command line.
func (c *Config) applyManager(m *Manager, explicit map[string]bool) {
	if !explicit["port"] {
		c.Port = m.GetInt("port", c.Port)
	}
	if !explicit["h2cport"] {
		c.H2CPort = m.GetInt("h2cport", c.H2CPort)
	}
	if !explicit["workers"] {
		c.Workers = m.GetInt("workers", c.Workers)
	}
	if !explicit["queuedepth"] {
		c.QueueDepth = m.GetInt("queuedepth", c.QueueDepth)
	}
	if !explicit["allowips"] {
		if ips := m.GetStringSlice("allowips"); len(ips) > 0 {
			c.AllowIPs = ips
		}
	}
	if !explicit["timeout"] {
		c.Timeout = m.GetInt("timeout", c.Timeout)
	}
	if !explicit["maxbody"] {
		c.MaxBody = m.GetInt("maxbody", c.MaxBody)
	}
	if !explicit["maxconnections"] {
		c.MaxConnections = m.GetInt("maxconnections", c.MaxConnections)
	}
	if !explicit["statsinterval"] {
		c.StatsInterval = m.GetInt("statsinterval", c.StatsInterval)
	}
	if !explicit["verbose"] {
		c.Verbose = m.GetBool("verbose", c.Verbose)
	}
	if !explicit["env"] {
		c.Env = m.GetString("env", c.Env)
	}
}

// Addr is the JSON-RPC listen address. With no allow-list the server
// stays on loopback; granting remote subnets also means binding all
// interfaces.
func (c *Config) Addr() string {
	host := "127.0.0.1"
	if len(c.AllowIPs) > 0 {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// H2CAddr is the HTTP/2 frontend listen address, or "" when the
// frontend is disabled.
func (c *Config) H2CAddr() string {
	if c.H2CPort <= 0 {
		return ""
	}
	host := "127.0.0.1"
	if len(c.AllowIPs) > 0 {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.H2CPort)
}

// CoreOptions translates the configuration into engine options. A bad
// allow-list entry is a startup error, not something to skip over.
func (c *Config) CoreOptions() (core.Options, error) {
	allow := acl.New()
	for _, spec := range c.AllowIPs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		if err := allow.AddSubnet(spec); err != nil {
			return core.Options{}, err
		}
	}

	return core.Options{
		Addr:           c.Addr(),
		Workers:        c.Workers,
		QueueDepth:     c.QueueDepth,
		RequestTimeout: time.Duration(c.Timeout) * time.Second,
		MaxBodySize:    c.MaxBody,
		MaxConnections: c.MaxConnections,
		AllowList:      allow,
		Verbose:        c.Verbose,
	}, nil
}
