package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"otto/internal/db"
	"otto/internal/engine"
	"otto/internal/migrate"
	"otto/internal/platform"
	"otto/internal/sandbox"
)

// Environment variables holding the platform credentials.
const (
	EnvAccountSID = "TWILIO_ACCOUNT_SID"
	EnvAuthToken  = "TWILIO_AUTH_TOKEN"
)

// ErrMissingCredentials is returned when a remote call would be made without credentials.
var ErrMissingCredentials = errors.New("missing platform credentials")

// BindCredentials maps the credential keys onto their environment variables.
func BindCredentials(v *viper.Viper) {
	_ = v.BindEnv("account-sid", EnvAccountSID)
	_ = v.BindEnv("auth-token", EnvAuthToken)
}

// Credentials returns the account sid and auth token, or an error naming the
// variables that are unset.
func Credentials(v *viper.Viper) (string, string, error) {
	sid := strings.TrimSpace(v.GetString("account-sid"))
	token := strings.TrimSpace(v.GetString("auth-token"))
	var missing []string
	if sid == "" {
		missing = append(missing, EnvAccountSID)
	}
	if token == "" {
		missing = append(missing, EnvAuthToken)
	}
	if len(missing) > 0 {
		return "", "", fmt.Errorf("%w: set %s", ErrMissingCredentials, strings.Join(missing, " and "))
	}
	return sid, token, nil
}

// OpenWorkspace opens and migrates the workspace database.
func OpenWorkspace(ctx context.Context, workspace string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Remote picks the sandbox store when "sandbox" is set, otherwise an HTTP
// client for "base-url" with the configured credentials. The second result
// labels the target for the journal.
func Remote(v *viper.Viper, conn *sql.DB) (platform.Remote, string, error) {
	if v.GetBool("sandbox") {
		return sandbox.New(conn), "sandbox", nil
	}
	sid, token, err := Credentials(v)
	if err != nil {
		return nil, "", err
	}
	client := platform.New(sid, token)
	target := "remote"
	if base := strings.TrimSpace(v.GetString("base-url")); base != "" {
		client.BaseURL = base
		target = base
	}
	return client, target, nil
}

// NewEngine wires an engine with the journal of conn.
func NewEngine(v *viper.Viper, conn *sql.DB, log *zap.Logger) (engine.Engine, error) {
	remote, target, err := Remote(v, conn)
	if err != nil {
		return engine.Engine{}, err
	}
	e := engine.New(remote, log)
	e.Target = target
	return e.WithJournal(conn), nil
}

// NewLogger builds the console logger used by the CLI.
func NewLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = ""
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}
