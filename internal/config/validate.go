package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Validate checks the configuration for startup-fatal problems: an
// unreadable DKIM key, an unwritable runtime snapshot path, a malformed
// proxy URL, or max_body out of range. It collects every failure into a
// single error so the operator sees all problems at once (spec.md §6
// "Exit codes").
func (c *Config) Validate() error {
	var errs []string

	if c.Mail.DKIMKeyPath != "" {
		if f, err := os.Open(c.Mail.DKIMKeyPath); err != nil {
			errs = append(errs, fmt.Sprintf("mail.dkim_key_path %q is not readable: %v", c.Mail.DKIMKeyPath, err))
		} else {
			_ = f.Close()
		}
	}

	if c.Mail.Proxy != "" {
		u, err := url.Parse(c.Mail.Proxy)
		if err != nil {
			errs = append(errs, fmt.Sprintf("mail.proxy %q is not a valid URL: %v", c.Mail.Proxy, err))
		} else {
			switch strings.ToLower(u.Scheme) {
			case "http", "socks4", "socks5":
			default:
				errs = append(errs, fmt.Sprintf("mail.proxy scheme %q must be one of http, socks4, socks5", u.Scheme))
			}
		}
	}

	if c.HTTP.MaxBody < 1024 || c.HTTP.MaxBody > 50*1024*1024 {
		errs = append(errs, fmt.Sprintf("http.max_body must be between 1KiB and 50MiB, got %d", c.HTTP.MaxBody))
	}

	if c.HTTP.RuntimeFilePath != "" {
		if err := checkWritable(c.HTTP.RuntimeFilePath); err != nil {
			errs = append(errs, fmt.Sprintf("http.runtime_file_path %q is not writable: %v", c.HTTP.RuntimeFilePath, err))
		}
	}

	if c.HTTP.Tokens() == nil {
		// Not fatal: open access with a startup warning (spec.md §4.7), logged
		// by the caller once the logger is set up.
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// checkWritable reports whether path can be opened for writing, creating it
// if it does not yet exist, without truncating existing content.
func checkWritable(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
