package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("gal-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Galaxy.ID != "gal-1" {
		t.Fatalf("galaxy id = %q", cfg.Galaxy.ID)
	}
	if cfg.Exchange.SunshinesPerStar != 360 {
		t.Fatalf("rate = %v, want 360", cfg.Exchange.SunshinesPerStar)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing galaxy id",
			yaml: "galaxy:\n  id: \"\"\nexchange:\n  sunshines_per_star: 360\n",
			want: "galaxy.id",
		},
		{
			name: "zero exchange rate",
			yaml: "galaxy:\n  id: g\nexchange:\n  sunshines_per_star: 0\n",
			want: "sunshines_per_star",
		},
		{
			name: "negative exchange rate",
			yaml: "galaxy:\n  id: g\nexchange:\n  sunshines_per_star: -1\n",
			want: "sunshines_per_star",
		},
		{
			name: "webhook without url",
			yaml: "galaxy:\n  id: g\nexchange:\n  sunshines_per_star: 360\nwebhooks:\n  - secret: s\n",
			want: "url",
		},
		{
			name: "webhook with empty event",
			yaml: "galaxy:\n  id: g\nexchange:\n  sunshines_per_star: 360\nwebhooks:\n  - url: http://localhost/hook\n    events: [\"\"]\n",
			want: "event",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(Path(dir), []byte(GenerateDefault("gal-1")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Galaxy.ID != "gal-1" {
		t.Fatalf("galaxy id = %q", cfg.Galaxy.ID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected missing config to error")
	}
	cfg, err := LoadOptional(t.TempDir())
	if err != nil || cfg != nil {
		t.Fatalf("LoadOptional = %v, %v; want nil, nil", cfg, err)
	}
}

func TestWebhookEventsValidated(t *testing.T) {
	cfg := Default("gal-1")
	cfg.Webhooks = []WebhookConfig{{URL: "http://localhost/hook", Events: []string{"issue.forged"}}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid webhook rejected: %v", err)
	}
}

func TestPathDefaultsToCwd(t *testing.T) {
	if got := Path(""); got != filepath.Join(".", "starforge.yml") {
		t.Fatalf("path = %q", got)
	}
}
