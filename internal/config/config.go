package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process and the CLI.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	Auth    AuthConfig
	Cache   CacheConfig
	Redis   RedisConfig
	DB      DBConfig
	History HistoryConfig
	Switch  SwitchConfig
	Probe   ProbeConfig
	DLR     DLRConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type CacheConfig struct {
	// Backend is "internal" (in-process) or "redis".
	Backend   string
	TTL       time.Duration
	KeyPrefix string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type HistoryConfig struct {
	// Backend is "memory" or "postgres".
	Backend string
}

// SwitchConfig describes how to reach the switch and what the probe call plays.
type SwitchConfig struct {
	CLIBinary string
	Host      string
	Port      int
	Password  string

	// Profile is the sofia profile used for outbound calls. When empty it is looked up
	// from SourceAddress at startup.
	Profile            string
	SourceAddress      string
	DestinationAddress string

	Codecs    []string
	AudioDir  string
	Files     []string
	Sort      string
	PlayMode  string
	LoopCount int
	SleepMS   int
}

type ProbeConfig struct {
	Source         string
	Schedule       []time.Duration
	NonRetriable   []int
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	KillTimeout    time.Duration
	Timeout        time.Duration
	MaxConcurrent  int
}

type DLRConfig struct {
	URL           string
	Method        string
	SkipTLSVerify bool
	Timeout       time.Duration
}

func Load() (Config, error) {
	c := Config{}
	env := &envParser{}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = env.int("APP_PORT", 8080)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = env.duration("JWT_ACCESS_TTL")

	c.Cache.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("CACHE_BACKEND")))
	c.Cache.TTL = env.duration("CACHE_TTL")
	c.Cache.KeyPrefix = strings.TrimSpace(os.Getenv("CACHE_KEY_PREFIX"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = env.int("REDIS_PORT", 6379)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB = env.int("REDIS_DB", 0)
	c.Redis.PoolSize = env.int("REDIS_POOL_SIZE", 0)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = env.int("DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.History.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("HISTORY_BACKEND")))

	c.Switch.CLIBinary = strings.TrimSpace(os.Getenv("FS_CLI_BINARY"))
	c.Switch.Host = strings.TrimSpace(os.Getenv("FS_CLI_HOST"))
	c.Switch.Port = env.int("FS_CLI_PORT", 0)
	c.Switch.Password = os.Getenv("FS_CLI_PASSWORD")
	c.Switch.Profile = strings.TrimSpace(os.Getenv("SWITCH_PROFILE"))
	c.Switch.SourceAddress = strings.TrimSpace(os.Getenv("SWITCH_SRC_ADDRESS"))
	c.Switch.DestinationAddress = strings.TrimSpace(os.Getenv("SWITCH_DST_ADDRESS"))
	c.Switch.Codecs = list("SWITCH_CODECS")
	c.Switch.AudioDir = strings.TrimSpace(os.Getenv("PLAYBACK_DIR"))
	c.Switch.Files = list("PLAYBACK_FILES")
	c.Switch.Sort = strings.TrimSpace(os.Getenv("PLAYBACK_SORT"))
	c.Switch.PlayMode = strings.TrimSpace(os.Getenv("PLAYBACK_MODE"))
	c.Switch.LoopCount = env.int("PLAYBACK_LOOP_COUNT", 0)
	c.Switch.SleepMS = env.int("PLAYBACK_SLEEP_MS", 0)

	c.Probe.Source = strings.TrimSpace(os.Getenv("PROBE_SRC_NUMBER"))
	c.Probe.Schedule = env.durations("PROBE_RECONNECT_SCHEDULE")
	c.Probe.NonRetriable = env.ints("PROBE_FINAL_CODES")
	c.Probe.ConnectTimeout = env.duration("PROBE_CONNECT_TIMEOUT")
	c.Probe.PollInterval = env.duration("PROBE_POLL_INTERVAL")
	c.Probe.KillTimeout = env.duration("PROBE_KILL_TIMEOUT")
	c.Probe.Timeout = env.duration("PROBE_TIMEOUT")
	c.Probe.MaxConcurrent = env.int("PROBE_MAX_CONCURRENT", 0)

	c.DLR.URL = strings.TrimSpace(os.Getenv("DLR_URL"))
	c.DLR.Method = strings.ToUpper(strings.TrimSpace(os.Getenv("DLR_HTTP_METHOD")))
	c.DLR.SkipTLSVerify = env.bool("DLR_SKIP_TLS_VERIFY")
	c.DLR.Timeout = env.duration("DLR_TIMEOUT")

	if err := joinErrors(env.errs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate applies defaults in place and reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "internal"
	}
	if !isValidCacheBackend(c.Cache.Backend) {
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be one of internal, memory, redis, got %q", c.Cache.Backend))
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = time.Hour
	}

	if c.NeedsRedis() {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required for the redis cache or a probe concurrency cap"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.History.Backend == "" {
		c.History.Backend = "memory"
	}
	switch c.History.Backend {
	case "memory":
	case "postgres":
		errs = append(errs, c.validateDB()...)
	default:
		errs = append(errs, fmt.Errorf("HISTORY_BACKEND must be one of memory, postgres, got %q", c.History.Backend))
	}

	if c.Switch.CLIBinary == "" {
		c.Switch.CLIBinary = "fs_cli"
	}
	if c.Switch.Port < 0 || c.Switch.Port > 65535 {
		errs = append(errs, fmt.Errorf("FS_CLI_PORT must be a valid port, got %d", c.Switch.Port))
	}
	if c.Switch.Sort != "" && !isOneOf(c.Switch.Sort, "priority", "random", "random_file") {
		errs = append(errs, fmt.Errorf("PLAYBACK_SORT must be one of priority, random, random_file, got %q", c.Switch.Sort))
	}
	if c.Switch.PlayMode != "" && !isOneOf(c.Switch.PlayMode, "once", "loop") {
		errs = append(errs, fmt.Errorf("PLAYBACK_MODE must be one of once, loop, got %q", c.Switch.PlayMode))
	}
	if c.Switch.LoopCount < 0 || c.Switch.SleepMS < 0 {
		errs = append(errs, errors.New("PLAYBACK_LOOP_COUNT and PLAYBACK_SLEEP_MS must not be negative"))
	}

	if c.Probe.Source == "" {
		c.Probe.Source = "vhlr"
	}
	for _, d := range c.Probe.Schedule {
		if d < 0 {
			errs = append(errs, fmt.Errorf("PROBE_RECONNECT_SCHEDULE must not contain negative delays, got %s", d))
			break
		}
	}
	if c.Probe.NonRetriable == nil {
		c.Probe.NonRetriable = []int{404, 410, 484}
	}
	if c.Probe.ConnectTimeout <= 0 {
		c.Probe.ConnectTimeout = 15 * time.Second
	}
	if c.Probe.PollInterval <= 0 {
		c.Probe.PollInterval = time.Second
	}
	if c.Probe.KillTimeout <= 0 {
		c.Probe.KillTimeout = 5 * time.Second
	}
	if c.Probe.Timeout <= 0 {
		c.Probe.Timeout = 2 * time.Minute
	}
	if c.Probe.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("PROBE_MAX_CONCURRENT must not be negative, got %d", c.Probe.MaxConcurrent))
	}

	if c.DLR.Method == "" {
		c.DLR.Method = "GET"
	}
	if !isOneOf(c.DLR.Method, "GET", "POST") {
		errs = append(errs, fmt.Errorf("DLR_HTTP_METHOD must be GET or POST, got %q", c.DLR.Method))
	}
	if c.DLR.Timeout <= 0 {
		c.DLR.Timeout = 10 * time.Second
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isOneOf(c.DB.SSLMode, "disable", "require", "verify-ca", "verify-full") {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// NeedsRedis reports whether any configured component talks to redis.
func (c Config) NeedsRedis() bool {
	return c.Cache.Backend == "redis" || c.Probe.MaxConcurrent > 0
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := parseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, v)
	}
	return d, nil
}

func optionalBool(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}

func list(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// durationList parses "0,2s,500ms". Bare numbers are seconds.
func durationList(key string) ([]time.Duration, error) {
	parts := list(key)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := parseDuration(p)
		if err != nil {
			return nil, fmt.Errorf("%s must be a list of durations, got %q", key, p)
		}
		out = append(out, d)
	}
	return out, nil
}

func intList(key string) ([]int, error) {
	parts := list(key)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%s must be a list of integers, got %q", key, p)
		}
		out = append(out, n)
	}
	return out, nil
}

func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// envParser collects parse errors so Load can report all of them at once.
type envParser struct {
	errs []error
}

func (p *envParser) keep(err error) {
	if err != nil {
		p.errs = append(p.errs, err)
	}
}

func (p *envParser) int(key string, def int) int {
	n, err := optionalInt(key, def)
	p.keep(err)
	return n
}

func (p *envParser) duration(key string) time.Duration {
	d, err := optionalDuration(key)
	p.keep(err)
	return d
}

func (p *envParser) bool(key string) bool {
	b, err := optionalBool(key)
	p.keep(err)
	return b
}

func (p *envParser) durations(key string) []time.Duration {
	d, err := durationList(key)
	p.keep(err)
	return d
}

func (p *envParser) ints(key string) []int {
	n, err := intList(key)
	p.keep(err)
	return n
}

func isValidEnv(v string) bool {
	return isOneOf(v, "local", "dev", "staging", "production")
}

func isValidCacheBackend(v string) bool {
	return isOneOf(v, "internal", "memory", "redis")
}

func isOneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
