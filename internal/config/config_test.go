package config

import (
	"strings"
	"testing"
	"time"
)

const strongSecret = "k3v9Qm2Lx8Pz4Rt7Wn1Yb6Hc0Fd5Gs2Ja"

func validConfig() *Config {
	return &Config{
		Environment:       "development",
		JWTSecret:         strongSecret,
		JWTRefreshSecret:  strongSecret,
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   7 * 24 * time.Hour,
		BcryptCost:        12,
		LockoutThreshold:  5,
		LockoutDuration:   30 * time.Minute,
		RevocationBackend: "redis",
		OTPTTL:            5 * time.Minute,
		OTPMaxAttempts:    5,
		ResetTokenTTL:     10 * time.Minute,
	}
}

func TestValidateAcceptsStrongConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Environment = "production"
	warnings, err := cfg.Validate()
	if err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}

func TestValidateSecretProblems(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{"missing", "", "is not set"},
		{"short", "tooshort", "at least 32 characters"},
		{"placeholder", "your-secret-key-change-in-production", "placeholder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.JWTSecret = tt.secret
			cfg.JWTRefreshSecret = tt.secret

			warnings, err := cfg.Validate()
			if err != nil {
				t.Fatalf("development config should only warn, got %v", err)
			}
			if !strings.Contains(strings.Join(warnings, "|"), tt.want) {
				t.Fatalf("expected warning containing %q, got %v", tt.want, warnings)
			}

			cfg.Environment = "production"
			if _, err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected fatal error containing %q in production, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateChecksIndependentRefreshSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Environment = "production"
	cfg.JWTRefreshSecret = "secret"
	if _, err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "JWT_REFRESH_SECRET") {
		t.Fatalf("expected refresh secret error, got %v", err)
	}
}

func TestValidateMemoryRevocationWarns(t *testing.T) {
	cfg := validConfig()
	cfg.RevocationBackend = "memory"
	warnings, err := cfg.Validate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "single server process") {
		t.Fatalf("expected single-process warning, got %v", warnings)
	}
}

func TestValidateStructuralErrorsAlwaysFatal(t *testing.T) {
	cfg := validConfig()
	cfg.LockoutThreshold = 0
	if _, err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero lockout threshold")
	}

	cfg = validConfig()
	cfg.RevocationBackend = "etcd"
	if _, err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown revocation backend")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "Production")
	t.Setenv("JWT_SECRET", strongSecret)
	t.Setenv("JWT_REFRESH_SECRET", "")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")

	cfg := Load()
	if !cfg.IsProduction() {
		t.Fatal("expected production environment")
	}
	if cfg.JWTRefreshSecret != strongSecret {
		t.Fatal("refresh secret should fall back to access secret")
	}
	if cfg.AccessTokenTTL != 5*time.Minute {
		t.Fatalf("expected 5m access TTL, got %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("expected 7d refresh TTL, got %v", cfg.RefreshTokenTTL)
	}
	if cfg.LockoutThreshold != 5 || cfg.LockoutDuration != 30*time.Minute {
		t.Fatalf("unexpected lockout defaults: %d %v", cfg.LockoutThreshold, cfg.LockoutDuration)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.AllowedOrigins)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("expected json log format in production, got %q", cfg.LogFormat)
	}
}
