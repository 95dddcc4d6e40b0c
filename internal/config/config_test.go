package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(newViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.MinCount != 1000 || c.MinReviews != 500 || c.MaxPages != 100 || c.LimitTech != 5 {
		t.Errorf("unexpected thresholds %+v", c)
	}
	if diff := cmp.Diff([]string{"Engine"}, c.Categories); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
	if c.BaseURL != "https://steamdb.info" || c.Format != "" || c.Delay != 3*time.Second {
		t.Errorf("unexpected defaults %+v", c)
	}
	if c.ArtifactBytes != 256*1024 {
		t.Errorf("ArtifactBytes = %d", c.ArtifactBytes)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("TECHDEX_MIN_COUNT", "0")
	t.Setenv("TECHDEX_CATEGORIES", "Engine, SDK,,Launcher")
	t.Setenv("TECHDEX_DELAY", "750ms")
	t.Setenv("TECHDEX_FORMAT", "YAML")

	c, err := Load(newViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.MinCount != 0 {
		t.Errorf("MinCount = %d, want 0", c.MinCount)
	}
	if diff := cmp.Diff([]string{"Engine", "SDK", "Launcher"}, c.Categories); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
	if c.Delay != 750*time.Millisecond {
		t.Errorf("Delay = %s", c.Delay)
	}
	if c.Format != "yaml" {
		t.Errorf("Format = %q, want yaml", c.Format)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".techdex.yaml")
	data := "min_reviews: 50\nmax_pages: 3\nformat: YAML\nbase_url: https://steamdb.example/\ncategories:\n  - SDK\n  - Emulator\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}
	c, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.MinReviews != 50 || c.MaxPages != 3 || c.Format != "yaml" || c.BaseURL != "https://steamdb.example" {
		t.Errorf("unexpected config %+v", c)
	}
	if diff := cmp.Diff([]string{"SDK", "Emulator"}, c.Categories); diff != "" {
		t.Errorf("categories mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value any
		want  string
	}{
		{"min_count", -1, "MinCount must be at least 0"},
		{"max_pages", 0, "MaxPages must be at least 1"},
		{"format", "xml", "Format must be one of"},
		{"base_url", "", "BaseURL is required"},
		{"challenge_timeout", "0s", "ChallengeTimeout must be greater than 0"},
		{"challenge_retries", 0, "ChallengeRetries must be at least 1"},
		{"flaresolverr_url", "not a url", "FlareSolverrURL must be a valid URL"},
		{"max_artifact_size", "lots", "invalid max_artifact_size"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			v := newViper()
			v.Set(tt.key, tt.value)
			_, err := Load(v)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
