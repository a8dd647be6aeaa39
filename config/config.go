// Package config parses the proxy's CLI surface: the downstream database
// identity, listen port, and the handful of behavioral flags the session
// engine and rewrite table need. Everything here is a constructor input,
// never consulted at runtime by the protocol engine itself.
package config

import (
	"fmt"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	"pgwireproxy/pgwire"
)

// TextFormat names the two -f flag values, each selecting the default
// row-rendering style for columns whose format code isn't forced to
// binary.
type TextFormat string

const (
	// FormatPostgreSQL renders scalars in PostgreSQL's own text
	// conventions (the default).
	FormatPostgreSQL TextFormat = "POSTGRESQL"
	// FormatSpanner passes the downstream executor's native text
	// rendering straight through, unmodified.
	FormatSpanner TextFormat = "SPANNER"
)

// Config is the parsed CLI surface.
type Config struct {
	Project         string
	Instance        string
	Database        string
	CredentialsFile string
	Port            int
	AuthRequired    bool
	PsqlCompat      bool
	TextFormat      TextFormat
	ForceBinary     bool
	RewritesPath    string
}

// Parse parses the process's command-line flags (with environment
// fallbacks for the connection identity, matching how this proxy is
// typically driven from a container) into a validated Config.
func Parse() (*Config, error) {
	cfg := &Config{}
	var format string

	flag.StringVarP(&cfg.Project, "project", "p", envStr("PGWIREPROXY_PROJECT", ""), "downstream project id")
	flag.StringVarP(&cfg.Instance, "instance", "i", envStr("PGWIREPROXY_INSTANCE", ""), "downstream instance id")
	flag.StringVarP(&cfg.Database, "database", "d", envStr("PGWIREPROXY_DATABASE", ""), "downstream database id")
	flag.StringVarP(&cfg.CredentialsFile, "credentials", "c", envStr("PGWIREPROXY_CREDENTIALS", ""), "path to a service account credentials file")
	flag.IntVarP(&cfg.Port, "server-port", "s", envInt("PGWIREPROXY_PORT", 5432), "listen port")
	flag.BoolVarP(&cfg.AuthRequired, "auth", "a", false, "require a password exchange during startup (content is not validated)")
	flag.BoolVarP(&cfg.PsqlCompat, "psql-mode", "q", false, "translate psql's introspection meta-commands (\\d, \\dt, \\dn, \\di, \\l)")
	flag.StringVarP(&format, "format", "f", string(FormatPostgreSQL), "default text result format: POSTGRESQL or SPANNER")
	flag.BoolVarP(&cfg.ForceBinary, "force-binary", "b", false, "force binary result format when an extended-mode Bind omits one")
	flag.StringVarP(&cfg.RewritesPath, "rewrites", "j", "", "path to a JSON file of query rewrite rules")
	flag.Parse()

	cfg.TextFormat = TextFormat(format)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Project == "" || c.Instance == "" || c.Database == "" || c.CredentialsFile == "" {
		return fmt.Errorf("-p, -i, -d, and -c are all required")
	}
	switch c.TextFormat {
	case FormatPostgreSQL, FormatSpanner:
	default:
		return fmt.Errorf("invalid -f value %q: must be %s or %s", c.TextFormat, FormatPostgreSQL, FormatSpanner)
	}
	return nil
}

// DataFormat maps the configured TextFormat to the row encoder's default.
func (c *Config) DataFormat() pgwire.DataFormat {
	if c.TextFormat == FormatSpanner {
		return pgwire.NativeText
	}
	return pgwire.PgText
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
