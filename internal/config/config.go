package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Tests struct {
		TTL      string `yaml:"ttl"`
		SeedFile string `yaml:"seedFile"`
	} `yaml:"tests"`
	Session struct {
		GracePeriod      string `yaml:"gracePeriod"`
		SweepInterval    string `yaml:"sweepInterval"`
		SubscriberBuffer int    `yaml:"subscriberBuffer"`
	} `yaml:"session"`
	Results struct {
		Retries int    `yaml:"retries"`
		Backoff string `yaml:"backoff"`
		Queue   bool   `yaml:"queue"`
	} `yaml:"results"`
}

// LoadDotEnv loads .env if present. A missing file is not an error.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load reads YAML config from path and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrideString(&c.Log.Level, "LOG_LEVEL")
	overrideString(&c.Log.Format, "LOG_FORMAT")
	overrideString(&c.Redis.Addr, "REDIS_ADDR")
	overrideString(&c.Postgres.URL, "POSTGRES_URL")
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		c.Server.AllowedOrigins = parseOrigins(raw)
	}
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
func parseOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if o := strings.TrimSpace(p); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
