package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct, loaded from YAML and then
// overlaid with environment variables and flags.
type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
		TLS     struct {
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
		} `yaml:"tls"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Security struct {
		// JWTSecret signs and verifies bearer tokens (HS256).
		JWTSecret string `yaml:"jwt_secret"`
		CORS      struct {
			AllowedOrigins []string `yaml:"allowed_origins"`
		} `yaml:"cors"`
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
		IPWhitelist []string `yaml:"ip_whitelist"`
	} `yaml:"security"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Janitor  JanitorConfig  `yaml:"janitor"`
}

// DeliveryConfig holds the delivery-core timing knobs. Zero values are
// replaced with the documented defaults by Normalize.
type DeliveryConfig struct {
	IdleSession        Duration `yaml:"idle_session"`
	OnlineGrace        Duration `yaml:"online_grace"`
	QueueRetention     Duration `yaml:"queue_retention"`
	NotifRetention     Duration `yaml:"notif_retention"`
	SessionSweep       Duration `yaml:"session_sweep"`
	MaxPollTimeout     Duration `yaml:"max_poll_timeout"`
	DefaultPollTimeout Duration `yaml:"default_poll_timeout"`
	// AdvertisedSessionTTL is what register reports as expiresAt; the
	// real server-side expiry is IdleSession without activity.
	AdvertisedSessionTTL Duration `yaml:"advertised_session_ttl"`
}

// JanitorConfig controls the periodic purge job. The session sweep
// interval lives in DeliveryConfig since it is a wire-documented knob.
type JanitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// Normalize fills unset delivery knobs with their defaults and clamps
// nonsensical values.
func (d *DeliveryConfig) Normalize() {
	def := func(v *Duration, fallback time.Duration) {
		if v.Duration() <= 0 {
			*v = Duration(fallback)
		}
	}
	def(&d.IdleSession, 5*time.Minute)
	def(&d.OnlineGrace, 5*time.Minute)
	def(&d.QueueRetention, 7*24*time.Hour)
	def(&d.NotifRetention, 30*24*time.Hour)
	def(&d.SessionSweep, time.Minute)
	def(&d.MaxPollTimeout, 60*time.Second)
	def(&d.DefaultPollTimeout, 30*time.Second)
	def(&d.AdvertisedSessionTTL, 24*time.Hour)
	if d.DefaultPollTimeout > d.MaxPollTimeout {
		d.DefaultPollTimeout = d.MaxPollTimeout
	}
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns
// their values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and CHATRELAY_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATRELAY_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// LoadEnvOverrides applies environment overrides onto the provided cfg
// and reports whether any env vars were used. Delivery knobs use the
// wire-documented millisecond names (IDLE_SESSION_MS etc.); server-level
// settings use the CHATRELAY_ prefix.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false

	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		var parts []string
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}
	ms := func(name string, dst *Duration) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && n > 0 {
				envUsed = true
				*dst = Duration(time.Duration(n) * time.Millisecond)
			}
		}
	}

	if v := os.Getenv("CHATRELAY_ADDR"); v != "" {
		envUsed = true
		host, port := splitHostPort(v)
		cfg.Server.Address = host
		if port != 0 {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CHATRELAY_DB_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("CHATRELAY_JWT_SECRET"); v != "" {
		envUsed = true
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("CHATRELAY_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("CHATRELAY_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("CHATRELAY_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("CHATRELAY_IP_WHITELIST"); v != "" {
		envUsed = true
		cfg.Security.IPWhitelist = parseList(v)
	}
	if c := os.Getenv("CHATRELAY_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("CHATRELAY_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}

	ms("IDLE_SESSION_MS", &cfg.Delivery.IdleSession)
	ms("ONLINE_GRACE_MS", &cfg.Delivery.OnlineGrace)
	ms("QUEUE_RETENTION_MS", &cfg.Delivery.QueueRetention)
	ms("NOTIF_RETENTION_MS", &cfg.Delivery.NotifRetention)
	ms("SESSION_SWEEP_MS", &cfg.Delivery.SessionSweep)
	ms("MAX_POLL_TIMEOUT_MS", &cfg.Delivery.MaxPollTimeout)
	ms("DEFAULT_POLL_TIMEOUT_MS", &cfg.Delivery.DefaultPollTimeout)

	return envUsed
}

func splitHostPort(v string) (string, int) {
	idx := strings.LastIndex(v, ":")
	if idx < 0 {
		return v, 0
	}
	host := v[:idx]
	if p, err := strconv.Atoi(v[idx+1:]); err == nil {
		return host, p
	}
	return v, 0
}
