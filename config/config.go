package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates sections: CHAT_JWT__ACCESS_SECRET -> jwt.access_secret.
const EnvPrefix = "CHAT_"

type Config struct {
	Server ServerConfig `koanf:"server"`
	DB     DBConfig     `koanf:"db"`
	KV     KVConfig     `koanf:"kv"`
	JWT    JWTConfig    `koanf:"jwt"`
	Log    LogConfig    `koanf:"log"`
	WS     WSConfig     `koanf:"ws"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	Debug           bool          `koanf:"debug"`
	SecureCookie    bool          `koanf:"secure_cookie"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DBConfig struct {
	Driver string `koanf:"driver"` // mysql or sqlite
	DSN    string `koanf:"dsn"`
}

type KVConfig struct {
	Dir      string `koanf:"dir"`
	InMemory bool   `koanf:"in_memory"`
}

type JWTConfig struct {
	AccessSecret  string `koanf:"access_secret"`
	RefreshSecret string `koanf:"refresh_secret"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type WSConfig struct {
	FrameRate  float64 `koanf:"frame_rate"`  // inbound frames per second per connection
	FrameBurst int     `koanf:"frame_burst"` // bucket size
}

func defaults() map[string]any {
	return map[string]any{
		"server.addr":             ":8082",
		"server.debug":            false,
		"server.secure_cookie":    true,
		"server.cors_origins":     []string{},
		"server.shutdown_timeout": "10s",
		"db.driver":               "sqlite",
		"db.dsn":                  "database.db",
		"kv.dir":                  "data/sessions",
		"kv.in_memory":            false,
		"log.level":               "info",
		"log.format":              "json",
		"ws.frame_rate":           5.0,
		"ws.frame_burst":          20,
	}
}

// mapProvider feeds a plain map to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}

// Load reads configuration. Later sources win: defaults, then the YAML file
// at path (optional), then .env and process environment.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(mapProvider(unflatten(defaults())), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load file %s: %w", path, err)
		}
	}

	envTransformer := func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformer), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		return errors.New("config: jwt.access_secret and jwt.refresh_secret are required")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return errors.New("config: access and refresh secrets must differ")
	}
	for _, origin := range c.Server.CORSOrigins {
		// credentialed requests cannot be opened to every site
		if origin == "*" {
			return errors.New("config: server.cors_origins must list explicit origins, not \"*\"")
		}
	}
	switch c.DB.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("config: unsupported db.driver %q", c.DB.Driver)
	}
	if !c.KV.InMemory && c.KV.Dir == "" {
		return errors.New("config: kv.dir is required unless kv.in_memory is set")
	}
	return nil
}

// unflatten turns dotted keys into nested maps.
func unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range flat {
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = value
	}
	return out
}
