// Package config loads server settings once at startup.
//
// Sources are applied in order, later ones winning: built-in defaults, an
// optional JSON file (-config or CONFIG), environment variables, then
// command-line flags that were set explicitly.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talkmate/companion/internal/auth"
	"github.com/talkmate/companion/internal/limiter"
)

// Defaults.
const (
	DefaultAddr           = ":8000"
	DefaultStorageURL     = "mongodb://localhost:27017"
	DefaultStorageDB      = "talkmate"
	DefaultJWTAlgorithm   = "HS256"
	DefaultConnectTimeout = 5 * time.Second
)

// ErrMissingKey is returned when no signing key is configured outside dev mode.
var ErrMissingKey = errors.New("config: missing jwt signing key (JWT_SECRET_KEY or -jwt-key)")

// Config is the immutable server configuration.
type Config struct {
	Addr           string   `json:"addr"`
	StorageURL     string   `json:"storage_url"`
	StorageDB      string   `json:"storage_db"`
	JWTKey         string   `json:"jwt_key"`
	JWTAlgorithm   string   `json:"jwt_algorithm"`
	AccessTTL      Duration `json:"access_ttl"`
	ConnectTimeout Duration `json:"connect_timeout"`
	PollerKey      string   `json:"poller_key"`

	LoginWindow   Duration `json:"login_window"`
	LoginMaxFails int      `json:"login_max_fails"`
	LoginBlock    Duration `json:"login_block"`

	Dev   bool `json:"dev"`
	Check bool `json:"-"`
}

// Limiter returns the login rate limit settings.
func (c Config) Limiter() limiter.Settings {
	return limiter.Settings{
		Window:   c.LoginWindow.D(),
		MaxFails: c.LoginMaxFails,
		BlockFor: c.LoginBlock.D(),
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:           DefaultAddr,
		StorageURL:     DefaultStorageURL,
		StorageDB:      DefaultStorageDB,
		JWTAlgorithm:   DefaultJWTAlgorithm,
		AccessTTL:      Duration(auth.DefaultTTL),
		ConnectTimeout: Duration(DefaultConnectTimeout),
		LoginWindow:    Duration(limiter.DefaultWindow),
		LoginMaxFails:  limiter.DefaultMaxFails,
		LoginBlock:     Duration(limiter.DefaultBlockFor),
	}
}

// Load builds the configuration from args (without the program name) and
// the environment looked up through getenv.
func Load(name string, args []string, getenv func(string) string, stderr io.Writer) (Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := Default()
	var configPath string
	fs.StringVar(&configPath, "config", "", "JSON config file (env CONFIG)")
	fs.StringVar(&f.Addr, "addr", DefaultAddr, "listen address (env ADDR)")
	fs.StringVar(&f.StorageURL, "storage", DefaultStorageURL, "storage url: mongodb://, postgres:// or memory:// (env STORAGE_URL, MONGO_URL)")
	fs.StringVar(&f.StorageDB, "db", DefaultStorageDB, "mongo database name (env STORAGE_DB)")
	fs.StringVar(&f.JWTKey, "jwt-key", "", "token signing key (env JWT_SECRET_KEY)")
	fs.StringVar(&f.JWTAlgorithm, "jwt-alg", DefaultJWTAlgorithm, "HS256, HS384 or HS512 (env JWT_ALGORITHM)")
	fs.Var(&f.AccessTTL, "access-ttl", "access token lifetime (env ACCESS_TOKEN_TTL)")
	fs.Var(&f.ConnectTimeout, "connect-timeout", "storage dial timeout")
	fs.StringVar(&f.PollerKey, "poller-key", "", "shared secret of the reminder poller; empty disables /internal (env POLLER_KEY)")
	fs.Var(&f.LoginWindow, "login-window", "failed login counting window")
	fs.IntVar(&f.LoginMaxFails, "login-max-fails", limiter.DefaultMaxFails, "failed logins before blocking")
	fs.Var(&f.LoginBlock, "login-block", "block duration after too many failed logins")
	fs.BoolVar(&f.Dev, "dev", false, "development mode: console logs, throwaway signing key")
	fs.BoolVar(&f.Check, "check", false, "check storage connectivity and exit")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Default()

	if configPath == "" {
		configPath = getenv("CONFIG")
	}
	if configPath != "" {
		if err := loadFile(configPath, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "addr":
			cfg.Addr = f.Addr
		case "storage":
			cfg.StorageURL = f.StorageURL
		case "db":
			cfg.StorageDB = f.StorageDB
		case "jwt-key":
			cfg.JWTKey = f.JWTKey
		case "jwt-alg":
			cfg.JWTAlgorithm = f.JWTAlgorithm
		case "access-ttl":
			cfg.AccessTTL = f.AccessTTL
		case "connect-timeout":
			cfg.ConnectTimeout = f.ConnectTimeout
		case "poller-key":
			cfg.PollerKey = f.PollerKey
		case "login-window":
			cfg.LoginWindow = f.LoginWindow
		case "login-max-fails":
			cfg.LoginMaxFails = f.LoginMaxFails
		case "login-block":
			cfg.LoginBlock = f.LoginBlock
		case "dev":
			cfg.Dev = f.Dev
		}
	})
	cfg.Check = f.Check

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	defer file.Close()
	dec := json.NewDecoder(file)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	str(&cfg.Addr, "ADDR")
	str(&cfg.StorageURL, "STORAGE_URL", "MONGO_URL")
	str(&cfg.StorageDB, "STORAGE_DB")
	str(&cfg.JWTKey, "JWT_SECRET_KEY")
	str(&cfg.JWTAlgorithm, "JWT_ALGORITHM")
	str(&cfg.PollerKey, "POLLER_KEY")
	if v := getenv("ACCESS_TOKEN_TTL"); v != "" {
		if err := cfg.AccessTTL.Set(v); err != nil {
			return fmt.Errorf("config: ACCESS_TOKEN_TTL: %w", err)
		}
	}
	return nil
}

func (c Config) validate() error {
	if c.JWTKey == "" && !c.Dev {
		return ErrMissingKey
	}
	if c.AccessTTL <= 0 {
		return errors.New("config: access ttl must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("config: connect timeout must be positive")
	}
	if c.LoginMaxFails < 1 {
		return errors.New("config: login max fails must be at least 1")
	}
	return nil
}

// Duration is a time.Duration that reads as "90s"/"15m" in flags, env and
// JSON. A bare integer is taken as minutes.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Set implements flag.Value.
func (d *Duration) Set(s string) error {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(n) * time.Minute)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string or minutes: %s", b)
		}
		s = strconv.Itoa(n)
	}
	return d.Set(s)
}
