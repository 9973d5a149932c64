package config

import (
	"errors"
	"flag"
	"os"
	"strings"
	"time"
)

// ServerConfig holds the process-level settings resolved from flags and
// PASSAGE_* environment variables. Flags win over environment.
type ServerConfig struct {
	Listen        string
	RoutesPath    string
	RedirectsPath string
	DBPath        string
	StaticDir     string
	AdminPassword string
	SessionSecret string
	LogLevel      string
	PprofListen   string
	SweepInterval time.Duration
}

const defaultListen = ":5000"
const defaultRoutesPath = "./config/config.json"
const defaultRedirectsPath = "./config/temp-redirects.json"
const defaultDBPath = "./passage.db"
const defaultStaticDir = "./static"
const defaultAdminPassword = "admin"
const defaultSweepInterval = 60 * time.Second

func ParseServerFlags(args []string) (ServerConfig, error) {
	cfg := ServerConfig{
		Listen:        envOrDefault("PASSAGE_LISTEN", defaultListen),
		RoutesPath:    envOrDefault("PASSAGE_CONFIG_PATH", defaultRoutesPath),
		RedirectsPath: envOrDefault("PASSAGE_REDIRECTS_PATH", defaultRedirectsPath),
		DBPath:        envOrDefault("PASSAGE_DB_PATH", defaultDBPath),
		StaticDir:     envOrDefault("PASSAGE_STATIC_DIR", defaultStaticDir),
		AdminPassword: envOrDefault("PASSAGE_ADMIN_PASSWORD", defaultAdminPassword),
		SessionSecret: envOrDefault("PASSAGE_SESSION_SECRET", ""),
		LogLevel:      envOrDefault("PASSAGE_LOG_LEVEL", "info"),
		PprofListen:   envOrDefault("PASSAGE_PPROF_LISTEN", ""),
		SweepInterval: defaultSweepInterval,
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP listen address")
	fs.StringVar(&cfg.RoutesPath, "config", cfg.RoutesPath, "Route mappings JSON file path")
	fs.StringVar(&cfg.RedirectsPath, "redirects", cfg.RedirectsPath, "Temporary redirects JSON file path")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "Admin UI static files directory")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.PprofListen, "pprof-listen", cfg.PprofListen, "pprof listen address (empty = disabled)")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Expired redirect sweep interval")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.Listen = strings.TrimSpace(cfg.Listen)
	if cfg.Listen == "" {
		return cfg, errors.New("missing --listen or PASSAGE_LISTEN")
	}
	if strings.TrimSpace(cfg.RoutesPath) == "" {
		return cfg, errors.New("missing --config or PASSAGE_CONFIG_PATH")
	}
	if strings.TrimSpace(cfg.RedirectsPath) == "" {
		return cfg, errors.New("missing --redirects or PASSAGE_REDIRECTS_PATH")
	}
	if cfg.AdminPassword == "" {
		return cfg, errors.New("admin password cannot be empty")
	}
	if cfg.SweepInterval <= 0 {
		return cfg, errors.New("sweep interval must be > 0")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
