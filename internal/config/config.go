// Package config loads the process-wide, immutable configuration for
// restmailer from defaults, an optional YAML file, and environment
// variables under the MAIL_ and HTTP_ prefixes.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete application configuration.
type Config struct {
	Mail MailConfig `mapstructure:"mail"`
	HTTP HTTPConfig `mapstructure:"http"`
}

// MailConfig holds outbound delivery settings (spec.md §3 "Configuration").
type MailConfig struct {
	Domain                 string        `mapstructure:"domain"`
	ServerName              string        `mapstructure:"server_name"`
	DefUsername             string        `mapstructure:"def_username"`
	DefSMTPConnectTimeout   time.Duration `mapstructure:"def_smtp_connect_timeout"`
	DefMailSendTimeout      time.Duration `mapstructure:"def_mail_send_timeout"`
	DefIgnoreStarttlsCert   bool          `mapstructure:"def_ignore_starttls_cert"`
	Proxy                   string        `mapstructure:"proxy"`
	DKIMKeyPath             string        `mapstructure:"dkim_key_path"`
	DKIMSelector            string        `mapstructure:"dkim_selector"`
	WorkerConcurrency       int           `mapstructure:"worker_concurrency"`
	RuntimeMaxEntries       int           `mapstructure:"runtime_max_entries"`
}

// HTTPConfig holds ingress settings (spec.md §3 "Configuration").
type HTTPConfig struct {
	ListenHost      string `mapstructure:"listen_host"`
	ListenPort      int    `mapstructure:"listen_port"`
	MaxBody         int64  `mapstructure:"max_body"`
	RuntimeFilePath string `mapstructure:"runtime_file_path"`
	AuthTokens      string `mapstructure:"auth_tokens"`
	DocsEnabled     bool   `mapstructure:"docs_enabled"`
}

// Addr returns the host:port the HTTP server should listen on.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.ListenHost, h.ListenPort)
}

// Tokens splits the comma-separated auth_tokens value into a slice. An
// unset (empty) value yields nil, meaning auth is bypassed.
func (h HTTPConfig) Tokens() []string {
	if strings.TrimSpace(h.AuthTokens) == "" {
		return nil
	}
	parts := strings.Split(h.AuthTokens, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// defaults returns the default configuration as a flat map using koanf's "."
// delimiter for nested keys.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"mail.domain":                    "",
		"mail.server_name":               "",
		"mail.def_username":              "",
		"mail.def_smtp_connect_timeout":  "5s",
		"mail.def_mail_send_timeout":     "30s",
		"mail.def_ignore_starttls_cert":  false,
		"mail.proxy":                     "",
		"mail.dkim_key_path":             "",
		"mail.dkim_selector":             "mail",
		"mail.worker_concurrency":        20,
		"mail.runtime_max_entries":       1_000_000,

		"http.listen_host":       "0.0.0.0",
		"http.listen_port":       8080,
		"http.max_body":          20 * 1024 * 1024,
		"http.runtime_file_path": "",
		"http.auth_tokens":       "",
		"http.docs_enabled":      true,
	}
}

// Load reads configuration from defaults, an optional YAML file, a
// .env/.env.example file if present, and environment variables with
// prefixes MAIL_ and HTTP_ (case-insensitive). Later sources override
// earlier ones.
func Load(path string) (*Config, error) {
	// .env loading happens before the env provider runs so either
	// mechanism can supply values (spec.md §6 "Environment").
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.example")

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// MAIL_SERVER_NAME -> mail.server_name, HTTP_LISTEN_PORT -> http.listen_port.
	// MailConfig/HTTPConfig are flat structs whose leaf keys keep their
	// underscores, so only the prefix is stripped, never "_" -> ".".
	// The prefix is matched case-insensitively; other variables are skipped.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		upper := strings.ToUpper(s)
		switch {
		case strings.HasPrefix(upper, "MAIL_"):
			return "mail." + strings.ToLower(s[len("MAIL_"):])
		case strings.HasPrefix(upper, "HTTP_"):
			return "http." + strings.ToLower(s[len("HTTP_"):])
		}
		return ""
	}), nil); err != nil {
		return nil, fmt.Errorf("loading MAIL_/HTTP_ env variables: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return &cfg, nil
}
