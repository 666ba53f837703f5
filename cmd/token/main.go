// Command token prints a bearer token for an account, for use against a
// server running with AUTH_MODE=jwt.
//
//	go run ./cmd/token -account <id>
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mmynk/jobsettle/internal/auth"
	"github.com/mmynk/jobsettle/internal/config"
	"github.com/mmynk/jobsettle/pkg/logging"
)

func main() {
	accountID := flag.String("account", "", "account ID the token acts for")
	ttl := flag.Duration("ttl", 0, "token lifetime (default TOKEN_TTL)")
	flag.Parse()

	cfg, err := config.Parse()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	token, err := mint(cfg, *accountID, *ttl)
	if err != nil {
		slog.Error("Failed to mint token", "error", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func mint(cfg *config.Config, accountID string, ttl time.Duration) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("-account is required")
	}
	if cfg.JWTSecret == "" {
		return "", fmt.Errorf("JWT_SECRET is not set")
	}
	if ttl <= 0 {
		ttl = cfg.TokenTTL
	}
	return auth.NewJWTManager(cfg.JWTSecret, ttl).Generate(accountID)
}
