package cdm

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
)

const (
	DefaultSchema      = "public"
	DefaultTablePrefix = "cdm_"
)

// Config is the resolved sink endpoint configuration.
type Config struct {
	ConnectionURL string `validate:"required"`
	Schema        string `validate:"required"`
	TablePrefix   string
	SSLMode       string `validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	AutoProvision bool
}

var validate = validator.New()

// ParseConfig reads the endpoint configuration map. Both connection_url and
// connectionUrl are accepted.
func ParseConfig(raw map[string]any) (Config, error) {
	cfg := Config{
		ConnectionURL: firstString(raw, "connection_url", "connectionUrl"),
		Schema:        firstString(raw, "schema"),
		TablePrefix:   DefaultTablePrefix,
		SSLMode:       firstString(raw, "ssl_mode", "sslMode"),
		AutoProvision: firstBool(raw, "auto_provision", "autoProvision"),
	}
	if cfg.Schema == "" {
		cfg.Schema = DefaultSchema
	}
	if prefix, ok := lookup(raw, "table_prefix", "tablePrefix"); ok {
		if s, ok := prefix.(string); ok {
			cfg.TablePrefix = s
		}
	}

	if err := validate.Struct(cfg); err != nil {
		var field string
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			field = verrs[0].Field()
		}
		if field == "ConnectionURL" {
			return Config{}, fernerrors.NewConfigurationError("cdm", "sink endpoint is missing connection_url").WithField("connection_url")
		}
		return Config{}, fernerrors.NewConfigurationError("cdm", "invalid sink endpoint configuration: %v", err).WithField(field)
	}
	return cfg, nil
}

// DSN returns the connection string with ssl_mode applied when configured.
func (c Config) DSN() string {
	if c.SSLMode == "" {
		return c.ConnectionURL
	}
	if strings.HasPrefix(c.ConnectionURL, "postgres://") || strings.HasPrefix(c.ConnectionURL, "postgresql://") {
		u, err := url.Parse(c.ConnectionURL)
		if err != nil {
			return c.ConnectionURL
		}
		q := u.Query()
		q.Set("sslmode", c.SSLMode)
		u.RawQuery = q.Encode()
		return u.String()
	}
	return fmt.Sprintf("%s sslmode=%s", c.ConnectionURL, c.SSLMode)
}

func lookup(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstString(raw map[string]any, keys ...string) string {
	v, ok := lookup(raw, keys...)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func firstBool(raw map[string]any, keys ...string) bool {
	v, ok := lookup(raw, keys...)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	}
	return false
}
