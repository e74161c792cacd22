package config

import "testing"

func validConfig() Config {
	return Config{
		HTTP:     HTTPConfig{Port: 8080},
		Database: DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Providers: map[string]ProviderConfig{
			"openai": {APIKey: "test-key"},
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port 0")
	}

	cfg.HTTP.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port 70000")
	}
}

func TestValidate_MissingDatabaseAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Addrs = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing database addrs")
	}
}

func TestValidate_NoProviders(t *testing.T) {
	cfg := validConfig()
	cfg.Providers = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty provider set")
	}
}

func TestValidate_ProviderMissingKey(t *testing.T) {
	cfg := validConfig()
	cfg.Providers["openai"] = ProviderConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for provider without api_key")
	}
}

func TestValidate_IncompleteCredential(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Credentials = []CredentialConfig{{Token: "tok"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for credential without account_id")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{
		Providers: map[string]ProviderConfig{
			"openai":    {APIKey: "k"},
			"anthropic": {APIKey: "k"},
		},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected read timeout 10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.Database.KeyPrefix != "promptgate:" {
		t.Errorf("expected default key prefix, got %q", cfg.Database.KeyPrefix)
	}
	if cfg.Quota.UpgradeURL != "/pricing" {
		t.Errorf("expected default upgrade url, got %q", cfg.Quota.UpgradeURL)
	}

	oa := cfg.Providers["openai"]
	if oa.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("openai base url not defaulted: %q", oa.BaseURL)
	}
	if oa.TimeoutSec != 300 {
		t.Errorf("openai timeout not defaulted: %d", oa.TimeoutSec)
	}

	an := cfg.Providers["anthropic"]
	if an.BaseURL != "https://api.anthropic.com/v1" {
		t.Errorf("anthropic base url not defaulted: %q", an.BaseURL)
	}
	if an.APIVersion != "2023-06-01" {
		t.Errorf("anthropic api version not defaulted: %q", an.APIVersion)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{ReadTimeoutSec: 5, ShutdownSec: 20},
		Database: DatabaseConfig{KeyPrefix: "other:"},
		Quota:    QuotaConfig{UpgradeURL: "https://example.com/upgrade"},
		Providers: map[string]ProviderConfig{
			"openai": {APIKey: "k", BaseURL: "https://proxy.internal/v1", TimeoutSec: 60},
		},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 5 || cfg.HTTP.ShutdownSec != 20 {
		t.Errorf("explicit http timeouts overwritten: %+v", cfg.HTTP)
	}
	if cfg.Database.KeyPrefix != "other:" {
		t.Errorf("explicit key prefix overwritten: %q", cfg.Database.KeyPrefix)
	}
	if cfg.Quota.UpgradeURL != "https://example.com/upgrade" {
		t.Errorf("explicit upgrade url overwritten: %q", cfg.Quota.UpgradeURL)
	}
	if p := cfg.Providers["openai"]; p.BaseURL != "https://proxy.internal/v1" || p.TimeoutSec != 60 {
		t.Errorf("explicit provider settings overwritten: %+v", p)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("PGTEST_SET", "value1")

	in := []byte("a: ${PGTEST_SET}\nb: ${PGTEST_UNSET:-fallback}\nc: ${PGTEST_UNSET}\n")
	got := string(expandEnvVars(in))
	want := "a: value1\nb: fallback\nc: \n"
	if got != want {
		t.Errorf("expandEnvVars mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}
