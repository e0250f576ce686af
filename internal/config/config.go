package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode   `yaml:"mode"`
	HTTPAddr string `yaml:"http_addr"`

	DBDriver string `yaml:"db_driver"` // sqlite|postgres|memory
	DBDSN    string `yaml:"db_dsn"`

	BlobBasePath string `yaml:"blob_base_path"`

	AuthHMACSecret string        `yaml:"auth_hmac_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`

	AdminUser     string `yaml:"admin_user"`
	AdminPassHash string `yaml:"admin_pass_hash"` // bcrypt

	CORSOriginsOnline  []string `yaml:"cors_origins_online"`
	CORSOriginsOffline []string `yaml:"cors_origins_offline"`

	LogLevel  string `yaml:"log_level"`  // debug|info|warn|error
	LogFormat string `yaml:"log_format"` // text|json
}

func defaults() Config {
	return Config{
		Mode:               ModeOffline,
		HTTPAddr:           ":8080",
		DBDriver:           "sqlite",
		BlobBasePath:       "./data",
		AuthHMACSecret:     "dev-secret-change-me",
		TokenTTL:           8 * time.Hour,
		AdminUser:          "admin",
		AdminPassHash:      "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji",
		CORSOriginsOnline:  []string{"https://exams.mindengage.ai"},
		CORSOriginsOffline: []string{"http://localhost:3000", "http://localhost:3010"},
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// FromEnv reads the process environment on top of the defaults.
func FromEnv() Config {
	c := defaults()
	overlayEnv(&c)
	return c
}

// Load reads .env (when present), then the YAML file at path (when path is
// not empty), then the environment. Later sources win.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, errors.Wrap(err, "load .env")
	}
	c := defaults()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}
	overlayEnv(&c)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres", "memory":
	default:
		return errors.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.Mode {
	case ModeOffline, ModeOnline:
	default:
		return errors.Errorf("unsupported MODE %q", c.Mode)
	}
	if c.Mode == ModeOnline && c.AuthHMACSecret == defaults().AuthHMACSecret {
		return errors.New("AUTH_HMAC_SECRET must be set in online mode")
	}
	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	return nil
}

func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func overlayEnv(c *Config) {
	c.Mode = Mode(envOr("MODE", string(c.Mode)))
	c.HTTPAddr = envOr("HTTP_ADDR", c.HTTPAddr)
	c.DBDriver = envOr("DB_DRIVER", c.DBDriver)
	c.DBDSN = envOr("DB_DSN", c.DBDSN)
	c.BlobBasePath = envOr("BLOB_BASE_PATH", c.BlobBasePath)
	c.AuthHMACSecret = envOr("AUTH_HMAC_SECRET", c.AuthHMACSecret)
	c.TokenTTL = envDuration("TOKEN_TTL", c.TokenTTL)
	c.AdminUser = envOr("ADMIN_USER", c.AdminUser)
	c.AdminPassHash = envOr("ADMIN_PASS_HASH", c.AdminPassHash)
	c.CORSOriginsOnline = csvOr("CORS_ORIGINS_ONLINE", c.CORSOriginsOnline)
	c.CORSOriginsOffline = csvOr("CORS_ORIGINS_OFFLINE", c.CORSOriginsOffline)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envDuration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(k))
	if err != nil {
		return def
	}
	return d
}

func csvOr(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
