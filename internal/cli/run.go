// Package cli implements the passage command line: the server itself and
// the API key admin commands.
package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/koltyakov/passage/internal/admin"
	"github.com/koltyakov/passage/internal/audit"
	"github.com/koltyakov/passage/internal/auth"
	"github.com/koltyakov/passage/internal/config"
	"github.com/koltyakov/passage/internal/debughttp"
	ilog "github.com/koltyakov/passage/internal/log"
	"github.com/koltyakov/passage/internal/proxy"
	"github.com/koltyakov/passage/internal/redirect"
	"github.com/koltyakov/passage/internal/server"
	"github.com/koltyakov/passage/internal/store/sqlite"
)

// Version is stamped at build time.
var Version = "dev"

func Run(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(args) == 0 {
		return runServer(ctx, nil)
	}

	switch args[0] {
	case "server":
		return runServer(ctx, args[1:])
	case "apikey":
		return runAPIKeyAdmin(ctx, args[1:])
	case "version", "--version", "-v":
		fmt.Println("passage", Version)
		return 0
	case "-h", "--help", "help":
		printUsage()
		return 0
	default:
		return runServer(ctx, args)
	}
}

func runServer(ctx context.Context, args []string) int {
	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer store.Close()

	sessionSecret, err := resolveSessionSecret(ctx, store, cfg.SessionSecret)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	pepper, err := resolveAPIKeyPepper(ctx, store, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 2
	}
	passwordHash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server config error:", err)
		return 1
	}

	table := config.NewTable(cfg.RoutesPath, logger)
	if err := table.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}
	redirects := redirect.NewStore(cfg.RedirectsPath, logger)
	redirects.Load()

	if err := debughttp.StartPprofServer(ctx, cfg.PprofListen, logger); err != nil {
		fmt.Fprintln(os.Stderr, "pprof error:", err)
		return 1
	}

	auditLog := audit.NewLog()
	p := proxy.New(table, redirects, auditLog, logger)
	a := admin.New(admin.Options{
		Routes:        table,
		Redirects:     redirects,
		Audit:         auditLog,
		Store:         store,
		SessionSecret: []byte(sessionSecret),
		PasswordHash:  passwordHash,
		APIKeyPepper:  pepper,
		StaticDir:     cfg.StaticDir,
		Logger:        logger,
	})

	s := server.New(cfg, redirects, p, a, logger)
	if err := s.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	return 0
}

// resolveSessionSecret pins the session signing secret in the database so
// issued sessions survive restarts.
func resolveSessionSecret(ctx context.Context, store *sqlite.Store, configured string) (string, error) {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		return store.ResolveSetting(ctx, "session_secret", configured)
	}
	current, exists, err := store.GetSetting(ctx, "session_secret")
	if err != nil {
		return "", err
	}
	if exists {
		return current, nil
	}
	generated, err := auth.GenerateSessionSecret()
	if err != nil {
		return "", err
	}
	return store.ResolveSetting(ctx, "session_secret", generated)
}

func resolveAPIKeyPepper(ctx context.Context, store *sqlite.Store, configured string) (string, error) {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		return store.ResolveSetting(ctx, "api_key_pepper", configured)
	}
	current, exists, err := store.GetSetting(ctx, "api_key_pepper")
	if err != nil {
		return "", err
	}
	if exists {
		return current, nil
	}
	return store.ResolveSetting(ctx, "api_key_pepper", choosePepper())
}

func choosePepper() string {
	machineID := detectMachineID()
	if machineID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte("passage-pepper:" + machineID))
	return hex.EncodeToString(sum[:])
}

func detectMachineID() string {
	for _, p := range []string{
		"/etc/machine-id",
		"/var/lib/dbus/machine-id",
	} {
		if b, err := os.ReadFile(p); err == nil {
			if v := strings.TrimSpace(string(b)); v != "" {
				return v
			}
		}
	}
	return ""
}

func printUsage() {
	fmt.Println(`passage - configurable HTTP forwarding proxy

Usage:
  passage [server-flags]            # default: run the server
  passage server [server-flags]
  passage apikey create [flags]
  passage apikey list [flags]
  passage apikey revoke [flags]
  passage version`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
