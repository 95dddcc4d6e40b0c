// Package config loads techdex settings from flags, environment and an
// optional .techdex.yaml through viper, and validates them.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides (TECHDEX_MIN_COUNT, ...).
const EnvPrefix = "TECHDEX"

// Config is the resolved run configuration.
type Config struct {
	BaseURL    string `mapstructure:"base_url" validate:"required,url"`
	Headless   bool   `mapstructure:"headless"`
	ChromePath string `mapstructure:"chrome_path"`

	MinCount    int      `mapstructure:"min_count" validate:"min=0"`
	MinReviews  int      `mapstructure:"min_reviews" validate:"min=0"`
	MaxPages    int      `mapstructure:"max_pages" validate:"min=1"`
	Categories  []string `mapstructure:"categories" validate:"dive,required"`
	LimitTech   int      `mapstructure:"limit_tech" validate:"min=0"`
	TestMode    bool     `mapstructure:"test"`
	MaxRequests int64    `mapstructure:"max_requests" validate:"min=0"`

	Delay            time.Duration `mapstructure:"delay" validate:"gte=0"`
	PageSize         int           `mapstructure:"page_size" validate:"min=1,max=1000"`
	InferEndpoint    bool          `mapstructure:"infer_endpoint"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	ChallengeTimeout time.Duration `mapstructure:"challenge_timeout" validate:"gt=0"`
	ChallengeRetries int           `mapstructure:"challenge_retries" validate:"min=1"`
	RenderTimeout    time.Duration `mapstructure:"render_timeout" validate:"gt=0"`
	RerenderRetries  int           `mapstructure:"rerender_retries" validate:"min=0"`
	FlareSolverrURL  string        `mapstructure:"flaresolverr_url" validate:"omitempty,url"`

	Output          string `mapstructure:"output"`
	Format          string `mapstructure:"format" validate:"omitempty,oneof=json jsonl yaml"` // empty: from the output extension
	DebugDir        string `mapstructure:"debug_dir"`
	MaxArtifactSize string `mapstructure:"max_artifact_size"`
	LogFile         string `mapstructure:"log_file"`

	// ArtifactBytes is MaxArtifactSize parsed.
	ArtifactBytes int `mapstructure:"-"`
}

// Defaults are applied before flags, environment and the config file.
var Defaults = map[string]any{
	"base_url":          "https://steamdb.info",
	"headless":          false,
	"min_count":         1000,
	"min_reviews":       500,
	"max_pages":         100,
	"categories":        []string{"Engine"},
	"limit_tech":        5,
	"test":              false,
	"max_requests":      0,
	"delay":             3 * time.Second,
	"page_size":         100,
	"infer_endpoint":    false,
	"request_timeout":   30 * time.Second,
	"challenge_timeout": 60 * time.Second,
	"challenge_retries": 2,
	"render_timeout":    30 * time.Second,
	"rerender_retries":  2,
	"output":            "techdex.json",
	"format":            "",
	"max_artifact_size": "256KiB",
}

// SetDefaults registers Defaults and the environment prefix on v.
func SetDefaults(v *viper.Viper) {
	for k, val := range Defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

var validate = validator.New()

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.Categories = splitList(c.Categories)

	if err := validate.Struct(c); err != nil {
		return Config{}, describe(err)
	}

	if s := strings.TrimSpace(c.MaxArtifactSize); s != "" && s != "0" {
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid max_artifact_size %q: %w", s, err)
		}
		c.ArtifactBytes = int(n)
	}
	return c, nil
}

// splitList flattens comma-separated entries ("Engine,SDK") and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s %s", e.Namespace(), message(e)))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", e.Param())
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}
