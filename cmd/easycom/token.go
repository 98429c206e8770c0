package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/nicholastmosher/easycom-sub000/internal/auth"
)

// runToken implements `easycom token`: it signs an access token with the
// configured JWT secret and prints it.
//
// Flags:
//   - -subject: who the token is for (default "operator")
//   - -role: operator or admin (default operator)
//   - -ttl: lifetime; defaults to security.jwt.access_token_ttl
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "operator", "token subject")
	roleName := fs.String("role", string(auth.RoleOperator), "role: operator or admin")
	ttl := fs.Duration("ttl", 0, "token lifetime (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	role, err := auth.ParseRole(*roleName)
	if err != nil {
		return err
	}

	path, explicit := getConfigPath()
	cfg, err := loadConfig(path, explicit)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return auth.ErrNoSecret
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := auth.GenerateAccessToken(*subject, role, cfg.Security.JWT.Secret, lifetime)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
