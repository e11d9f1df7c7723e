package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	HostsFile         string        // path to the YAML file listing media hosts
	MaxStartupRetries int           // startup connect attempts per host (0 = unbounded)
	FailoverTimeout   time.Duration // max time for a connect or probe round-trip (default: 15s)
	ReconnectDelay    time.Duration // delay between reconnect attempts (default: 3s)
	ProbeInterval     time.Duration // liveness probe interval (default: 30s)
	ProbeEnabled      bool          // enable the websocket liveness probe

	AlertEndpoint string        // webhook URL receiving alert POSTs
	AlertTimeout  time.Duration // per-delivery timeout (default: 5s)
	LocalID       string        // identifier prefixed to alert text (default: hostname)

	// Redis (optional - state snapshots disabled when RedisAddr is empty)
	RedisAddr           string        // ex: "localhost:6379"
	RedisUser           string        // optional
	RedisPassword       string        // optional
	RedisDB             int           // Redis DB number
	RedisDialTimeout    time.Duration // Redis dial timeout (ex: 5s)
	RedisConnectTimeout time.Duration // total time to retry connecting (ex: 30s)
	RedisRetryInterval  time.Duration // initial wait between retries (grows exponentially)
	RedisMaxWait        time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout    time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize       int           // Redis connection pool size
	RedisWarnThreshold  int           // warn after this many attempts

	// Call control (optional - monitor disabled when CallControlHost is empty)
	CallControlHost       string // ex: "pbx.internal"
	CallControlPort       int    // ex: 8021
	CallControlCredential string // handshake credential
	CallControlProbeURL   string // optional secondary URL for the liveness probe
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("MEDWATCH_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("MEDWATCH_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("MEDWATCH_LOG_LEVEL", "info"),
		PrettyLog: mustBool("MEDWATCH_PRETTY_LOG", false),

		// Supervision
		HostsFile:         getenv("MEDWATCH_HOSTS_FILE", "/app/hosts.yaml"),
		MaxStartupRetries: getenvInt("MEDWATCH_MAX_STARTUP_RETRIES", 0),
		FailoverTimeout:   mustDuration("MEDWATCH_FAILOVER_TIMEOUT", 15*time.Second),
		ReconnectDelay:    mustDuration("MEDWATCH_RECONNECT_DELAY", 3*time.Second),
		ProbeInterval:     mustDuration("MEDWATCH_PROBE_INTERVAL", 30*time.Second),
		ProbeEnabled:      mustBool("MEDWATCH_PROBE_ENABLED", false),

		// Alerts
		AlertEndpoint: requireEnv("MEDWATCH_ALERT_ENDPOINT"),
		AlertTimeout:  mustDuration("MEDWATCH_ALERT_TIMEOUT", 5*time.Second),
		LocalID:       getenv("MEDWATCH_LOCAL_ID", defaultLocalID()),

		// Redis settings (all ignored unless MEDWATCH_REDIS_ADDR is set)
		RedisAddr:           getenv("MEDWATCH_REDIS_ADDR", ""),
		RedisUser:           getenv("MEDWATCH_REDIS_USERNAME", "default"),
		RedisPassword:       getenv("MEDWATCH_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("MEDWATCH_REDIS_DB", 0),
		RedisDialTimeout:    mustDuration("MEDWATCH_REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisConnectTimeout: mustDuration("MEDWATCH_REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("MEDWATCH_REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisMaxWait:        mustDuration("MEDWATCH_REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("MEDWATCH_REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:       getenvInt("MEDWATCH_REDIS_POOL_SIZE", 10),
		RedisWarnThreshold:  getenvInt("MEDWATCH_REDIS_WARN_THRESHOLD", 3),

		// Call control
		CallControlHost:       getenv("MEDWATCH_CALL_CONTROL_HOST", ""),
		CallControlPort:       getenvInt("MEDWATCH_CALL_CONTROL_PORT", 8021),
		CallControlCredential: getenv("MEDWATCH_CALL_CONTROL_CREDENTIAL", ""),
		CallControlProbeURL:   getenv("MEDWATCH_CALL_CONTROL_PROBE_URL", ""),
	}

	if cfg.MaxStartupRetries < 0 {
		panic("❌ FATAL: MEDWATCH_MAX_STARTUP_RETRIES must be >= 0")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		if cfgCopy.RedisPassword != "" {
			cfgCopy.RedisPassword = "***REDACTED***"
		}
		if cfgCopy.CallControlCredential != "" {
			cfgCopy.CallControlCredential = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// CallControlEnabled reports whether a call-control host is configured.
func (c *Config) CallControlEnabled() bool {
	return c.CallControlHost != ""
}

// RedisEnabled reports whether the optional snapshot store is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

func defaultLocalID() string {
	name, err := os.Hostname()
	if err != nil {
		return "medwatch"
	}
	return name
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic("❌ FATAL: missing required env var " + key)
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic("❌ FATAL: invalid integer for " + key + ": " + v)
	}
	return n
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic("❌ FATAL: invalid duration for " + key + ": " + v)
	}
	return d
}

func mustBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		panic("❌ FATAL: invalid boolean for " + key + ": " + v)
	}
	return b
}
