package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Storage backends selectable with STORE_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Profile selects which settings a binary must provide.
type Profile int

const (
	// ProfileServer is the HTTP server; it guards the admin surface with AUTH_TOKEN.
	ProfileServer Profile = iota
	// ProfileJob is the one-shot fraud detection command, which serves no HTTP.
	ProfileJob
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port         string `env:"PORT" default:"8080"`
	AuthToken    string `env:"AUTH_TOKEN" validate:"required"`
	StoreBackend string `env:"STORE_BACKEND" default:"postgres" validate:"oneof=postgres memory"`

	DBURL             string `env:"DB_URL" validate:"required_if=StoreBackend postgres"`
	DBMaxConns        int    `env:"DB_MAX_CONNS" default:"20" validate:"gt=0"`
	DBMinConns        int    `env:"DB_MIN_CONNS" default:"2" validate:"gte=0,ltefield=DBMaxConns"`
	DBMaxIdleSecs     int    `env:"DB_MAX_CONN_IDLE_SECS" default:"300" validate:"gte=0"`
	DBMaxLifeSecs     int    `env:"DB_MAX_CONN_LIFETIME_SECS" default:"3600" validate:"gte=0"`
	DBConnTimeoutSecs int    `env:"DB_CONN_TIMEOUT_SECS" default:"10" validate:"gt=0"`
	DBStatementCache  int    `env:"DB_STATEMENT_CACHE_CAPACITY" default:"256" validate:"gte=0"`

	ReadTimeoutSecs  int `env:"SERVER_READ_TIMEOUT" default:"15" validate:"gte=0"`
	WriteTimeoutSecs int `env:"SERVER_WRITE_TIMEOUT" default:"15" validate:"gte=0"`
	IdleTimeoutSecs  int `env:"SERVER_IDLE_TIMEOUT" default:"60" validate:"gte=0"`

	RedisURL string `env:"REDIS_URL"`

	FraudInterval        time.Duration `env:"FRAUD_INTERVAL" default:"30m" validate:"gt=0"`
	FraudCandidateWindow time.Duration `env:"FRAUD_CANDIDATE_WINDOW" default:"30m" validate:"gt=0"`
	FraudBaselineWindow  time.Duration `env:"FRAUD_BASELINE_WINDOW" default:"24h" validate:"gtefield=FraudCandidateWindow"`
	FraudZThreshold      float64       `env:"FRAUD_Z_THRESHOLD" default:"2.0" validate:"gt=0"`
	FraudLeaseTTL        time.Duration `env:"FRAUD_LEASE_TTL" default:"10m" validate:"required_with=RedisURL,omitempty,gt=0"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
}

// Load reads configuration for the HTTP server.
func Load() (Config, error) {
	return LoadProfile(ProfileServer)
}

// LoadProfile reads an optional .env file, then configuration from environment
// variables, applying defaults and the validation rules of profile.
func LoadProfile(profile Profile) (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := validate(cfg, profile); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = newValidate()

func newValidate() func(Config, Profile) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(envName)

	return func(cfg Config, profile Profile) error {
		var err error
		switch profile {
		case ProfileJob:
			err = v.StructExcept(cfg, "AuthToken")
		default:
			err = v.Struct(cfg)
		}
		if err == nil {
			return nil
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
}

func envName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("env"), ",")
	if name == "" {
		return f.Name
	}
	return name
}

// envOf resolves a Config field name used in a validation param to its variable.
func envOf(field string) string {
	f, ok := reflect.TypeOf(Config{}).FieldByName(field)
	if !ok {
		return field
	}
	return envName(f)
}

func describe(fe validator.FieldError) string {
	name := fe.Field()
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "required_if":
		field, value, _ := strings.Cut(fe.Param(), " ")
		return fmt.Sprintf("%s is required when %s is %s", name, envOf(field), value)
	case "required_with":
		return fmt.Sprintf("%s must be positive when %s is set", name, envOf(fe.Param()))
	case "oneof":
		return fmt.Sprintf("%s must be one of %s, got %q", name, strings.ReplaceAll(fe.Param(), " ", ", "), fmt.Sprint(fe.Value()))
	case "gt":
		return name + " must be positive"
	case "gte":
		return name + " must be non-negative"
	case "ltefield":
		return fmt.Sprintf("%s cannot exceed %s", name, envOf(fe.Param()))
	case "gtefield":
		return fmt.Sprintf("%s cannot be shorter than %s", name, envOf(fe.Param()))
	default:
		return fmt.Sprintf("%s failed %s validation", name, fe.Tag())
	}
}
