package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MinSecretLength is the shortest JWT signing secret accepted.
const MinSecretLength = 32

// MinBcryptCost is the lowest bcrypt cost accepted in production.
const MinBcryptCost = 12

// weakSecrets are placeholder values that ship in templates and tutorials.
var weakSecrets = []string{
	"your-secret-key-change-in-production",
	"your-jwt-secret",
	"your_jwt_secret",
	"your-refresh-secret",
	"change-me",
	"changeme",
	"secret",
	"jwt_secret",
	"jwtsecret",
	"supersecret",
	"default",
	"password",
	"test",
}

type Config struct {
	Environment string // ENV: production, development, etc.
	Port        string
	Host        string

	MongoURI      string
	MongoDatabase string
	RedisURI      string

	JWTSecret        string
	JWTRefreshSecret string // falls back to JWTSecret when unset
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	BcryptCost       int
	LockoutThreshold int
	LockoutDuration  time.Duration

	RevocationBackend          string // "redis" or "memory"
	RevocationFailOpen         bool
	EnforceRefreshTokenBinding bool

	OTPTTL         time.Duration
	OTPMaxAttempts int
	ResetTokenTTL  time.Duration

	FrontendURL    string
	AllowedOrigins []string
	// TrustProxy honours X-Forwarded-For when resolving client IPs.
	TrustProxy bool

	KafkaBrokers    []string
	KafkaAuditTopic string
	// AuditBufferSize bounds the Mongo audit queue.
	AuditBufferSize int

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))

	allowedOrigins := parseList(getEnv("ALLOWED_ORIGINS", ""))
	if len(allowedOrigins) == 0 {
		for _, u := range []string{getEnv("FRONTEND_URL", "http://localhost:3000"), getEnv("ADMIN_URL", "")} {
			u = strings.TrimSpace(u)
			if u != "" {
				allowedOrigins = append(allowedOrigins, u)
			}
		}
	}

	logFormat := "console"
	if env == "production" {
		logFormat = "json"
	}

	jwtSecret := getEnv("JWT_SECRET", "")

	return &Config{
		Environment:                env,
		Port:                       getEnv("PORT", "8080"),
		Host:                       getEnv("HOST", "http://localhost:8080"),
		MongoURI:                   getEnv("MONGODB_URI", getEnv("MONGO_URI", "mongodb://localhost:27017/loanhub")),
		MongoDatabase:              getEnv("MONGODB_DATABASE", ""),
		RedisURI:                   getEnv("REDIS_URI", "redis://localhost:6379/0"),
		JWTSecret:                  jwtSecret,
		JWTRefreshSecret:           getEnv("JWT_REFRESH_SECRET", jwtSecret),
		AccessTokenTTL:             getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:            getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		BcryptCost:                 getEnvInt("BCRYPT_COST", MinBcryptCost),
		LockoutThreshold:           getEnvInt("LOCKOUT_THRESHOLD", 5),
		LockoutDuration:            getEnvDuration("LOCKOUT_DURATION", 30*time.Minute),
		RevocationBackend:          strings.ToLower(getEnv("REVOCATION_BACKEND", "redis")),
		RevocationFailOpen:         getEnvBool("REVOCATION_FAIL_OPEN", false),
		EnforceRefreshTokenBinding: getEnvBool("ENFORCE_REFRESH_TOKEN_BINDING", true),
		OTPTTL:                     getEnvDuration("OTP_TTL", 5*time.Minute),
		OTPMaxAttempts:             getEnvInt("OTP_MAX_ATTEMPTS", 5),
		ResetTokenTTL:              getEnvDuration("RESET_TOKEN_TTL", 10*time.Minute),
		FrontendURL:                getEnv("FRONTEND_URL", "http://localhost:3000"),
		AllowedOrigins:             allowedOrigins,
		TrustProxy:                 getEnvBool("TRUST_PROXY", false),
		KafkaBrokers:               parseList(getEnv("KAFKA_BROKERS", "")),
		KafkaAuditTopic:            getEnv("KAFKA_AUDIT_TOPIC", "auth-audit-events"),
		AuditBufferSize:            getEnvInt("AUDIT_BUFFER_SIZE", 1024),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		LogFormat:                  getEnv("LOG_FORMAT", logFormat),
	}
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

// Validate checks the configuration once at boot. Problems that are fatal in
// production are returned as an error there and as warnings elsewhere.
func (c *Config) Validate() (warnings []string, err error) {
	var problems []string

	problems = append(problems, checkSecret("JWT_SECRET", c.JWTSecret)...)
	if c.JWTRefreshSecret != c.JWTSecret {
		problems = append(problems, checkSecret("JWT_REFRESH_SECRET", c.JWTRefreshSecret)...)
	}
	if c.BcryptCost < MinBcryptCost {
		problems = append(problems, fmt.Sprintf("BCRYPT_COST %d is below %d", c.BcryptCost, MinBcryptCost))
	}
	if c.RevocationBackend == "memory" {
		problems = append(problems, "REVOCATION_BACKEND=memory only works for a single server process")
	}

	// Structural errors are fatal in every environment.
	var fatal []string
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		fatal = append(fatal, "token TTLs must be positive")
	}
	if c.LockoutThreshold < 1 || c.LockoutDuration <= 0 {
		fatal = append(fatal, "lockout threshold and duration must be positive")
	}
	if c.OTPTTL <= 0 || c.ResetTokenTTL <= 0 || c.OTPMaxAttempts < 1 {
		fatal = append(fatal, "OTP and reset token settings must be positive")
	}
	if c.RevocationBackend != "redis" && c.RevocationBackend != "memory" {
		fatal = append(fatal, fmt.Sprintf("unknown REVOCATION_BACKEND %q", c.RevocationBackend))
	}

	if c.IsProduction() {
		fatal = append(fatal, problems...)
	} else {
		warnings = problems
	}
	if len(fatal) > 0 {
		return warnings, errors.New("invalid configuration: " + strings.Join(fatal, "; "))
	}
	return warnings, nil
}

func checkSecret(name, secret string) []string {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return []string{name + " is not set"}
	}
	var out []string
	if len(secret) < MinSecretLength {
		out = append(out, fmt.Sprintf("%s must be at least %d characters", name, MinSecretLength))
	}
	lower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if lower == weak {
			out = append(out, name+" is a known placeholder value")
			break
		}
	}
	return out
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
