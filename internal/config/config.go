package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "REPORTDESK_"

type Config struct {
	HTTPAddr      string        `yaml:"http_addr" validate:"required"`
	RPCSocket     string        `yaml:"rpc_socket" validate:"required"`
	DBPath        string        `yaml:"db_path" validate:"required"`
	UploadsDir    string        `yaml:"uploads_dir" validate:"required"`
	AdminUsername string        `yaml:"admin_username" validate:"required"`
	AdminPassword string        `yaml:"admin_password" validate:"required,min=4"`
	ResetPassword string        `yaml:"reset_password" validate:"required,min=4"`
	SessionTTL    time.Duration `yaml:"session_ttl" validate:"gt=0"`
	TokenTTL      time.Duration `yaml:"token_ttl" validate:"gte=0"`
	LogLevel      string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat     string        `yaml:"log_format" validate:"oneof=json text"`
}

func Default() Config {
	return Config{
		HTTPAddr:      ":8080",
		RPCSocket:     "/tmp/reportdesk.sock",
		DBPath:        "reportdesk.db",
		UploadsDir:    "uploads",
		AdminUsername: "admin",
		AdminPassword: "admin123",
		ResetPassword: "123456",
		SessionTTL:    24 * time.Hour,
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// Load layers defaults, the optional YAML file, the optional dotenv file and
// REPORTDESK_* environment variables, in that order, then validates the result.
// An empty path or envFile skips that layer; a missing envFile is ignored.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"HTTP_ADDR":      &cfg.HTTPAddr,
		"RPC_SOCKET":     &cfg.RPCSocket,
		"DB_PATH":        &cfg.DBPath,
		"UPLOADS_DIR":    &cfg.UploadsDir,
		"ADMIN_USERNAME": &cfg.AdminUsername,
		"ADMIN_PASSWORD": &cfg.AdminPassword,
		"RESET_PASSWORD": &cfg.ResetPassword,
		"LOG_LEVEL":      &cfg.LogLevel,
		"LOG_FORMAT":     &cfg.LogFormat,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	durations := map[string]*time.Duration{
		"SESSION_TTL": &cfg.SessionTTL,
		"TOKEN_TTL":   &cfg.TokenTTL,
	}
	for key, dst := range durations {
		v, ok := lookup(EnvPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
	}
	return nil
}

func (c Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, ", "))
}
