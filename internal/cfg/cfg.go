package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
)

const minJWTSecretLen = 32

// Config holds application options. It satisfies the go-core cfg
// Registerable and Validatable interfaces.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	DBMaxConns            int
	DBSlowQueryMs         int
	JWTSecret             string
	JWTIssuer             string
	JWTAudience           string
	SlackWebhookURL       string
	ClaudeAPIKey          string
	ClaudeModel           string
	MaxChatTurns          int
	WSAllowedOrigins      string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 15, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 30, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.DBMaxConns, "db-max-conns", 0, "maximum PostgreSQL pool connections (0 = pgx default, max 1000)")
	fs.IntVar(&c.DBSlowQueryMs, "db-slow-query-ms", 0, "log only failed queries and those slower than this (0 = log every query, max 60000)")
	fs.StringVar(&c.JWTSecret, "jwt-secret", "", "HS256 secret used to verify platform access tokens (at least 32 bytes)")
	fs.StringVar(&c.JWTIssuer, "jwt-issuer", "", "required token issuer (empty = not checked)")
	fs.StringVar(&c.JWTAudience, "jwt-audience", "authenticated", "required token audience (empty = not checked)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for urgent alert notifications")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for Claude-written case summary narratives (empty = template narratives)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model for case summary narratives")
	fs.IntVar(&c.MaxChatTurns, "max-chat-turns", 8, "patient messages before a chat intake is assessed (1..50)")
	fs.StringVar(&c.WSAllowedOrigins, "ws-allowed-origins", "", "comma-separated WebSocket origins, * for any (empty = same origin only)")
}

// AllowedOrigins splits WSAllowedOrigins into trimmed, non-empty entries.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.WSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.DBMaxConns < 0 || c.DBMaxConns > 1000 {
		errs = append(errs, fmt.Errorf("invalid DB_MAX_CONNS %d (must be 0..1000)", c.DBMaxConns))
	}
	if c.DBSlowQueryMs < 0 || c.DBSlowQueryMs > 60000 {
		errs = append(errs, fmt.Errorf("invalid DB_SLOW_QUERY_MS %d (must be 0..60000)", c.DBSlowQueryMs))
	}

	if len(c.JWTSecret) < minJWTSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLen))
	}

	if c.MaxChatTurns < 1 || c.MaxChatTurns > 50 {
		errs = append(errs, fmt.Errorf("invalid MAX_CHAT_TURNS %d (must be 1..50)", c.MaxChatTurns))
	}

	// The model only matters when narratives are enabled
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if c.SlackWebhookURL != "" {
		if u, err := url.Parse(c.SlackWebhookURL); err != nil || u.Scheme != "https" || u.Host == "" {
			errs = append(errs, errors.New("SLACK_WEBHOOK_URL must be an https URL"))
		}
	}

	for _, o := range c.AllowedOrigins() {
		if o == "*" {
			continue
		}
		if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid WS_ALLOWED_ORIGINS entry %q (want scheme://host)", o))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
