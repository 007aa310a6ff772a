package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/andresmejia3/parallax/internal/stabilizer"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Defaults used when neither a flag nor the environment sets a value.
const (
	DefaultUDPHost      = "127.0.0.1"
	DefaultUDPPort      = 6969
	DefaultPython       = "python3"
	DefaultWorkerScript = "python/landmarker.py"
	DefaultDatabaseURL  = "postgres://localhost:5432/parallax"
)

// Env is the environment-derived configuration.
type Env struct {
	UDPHost      string
	UDPPort      int
	Python       string
	WorkerScript string
	LogFile      string
}

// Load reads an optional .env file (existing variables win) and returns the
// environment configuration. path may be empty for "./.env".
func Load(path string) (Env, error) {
	var err error
	if path == "" {
		err = godotenv.Load()
	} else {
		err = godotenv.Load(path)
	}
	// A missing default .env is normal; an explicitly named one must exist
	if err != nil && (path != "" || !errors.Is(err, fs.ErrNotExist)) {
		return Env{}, fmt.Errorf("failed to load env file: %w", err)
	}

	env := Env{
		UDPHost:      getenv("PARALLAX_UDP_HOST", DefaultUDPHost),
		UDPPort:      DefaultUDPPort,
		Python:       getenv("PARALLAX_PYTHON", DefaultPython),
		WorkerScript: getenv("PARALLAX_WORKER_SCRIPT", DefaultWorkerScript),
		LogFile:      os.Getenv("PARALLAX_LOG_FILE"),
	}
	if v := os.Getenv("PARALLAX_UDP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Env{}, fmt.Errorf("PARALLAX_UDP_PORT: %w", err)
		}
		env.UDPPort = port
	}
	return env, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// DatabaseURL returns flagValue when set, otherwise builds a connection string
// from POSTGRES_* variables, otherwise the local default.
func DatabaseURL(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return DefaultDatabaseURL
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := getenv("POSTGRES_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags on v. Failures are reported in one error that
// wraps stabilizer.ErrInvalidConfig and names every offending field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", stabilizer.ErrInvalidConfig, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gt", "gte", "lt", "lte", "min", "max":
		return fmt.Sprintf("%s must be %s %s, got %v", fe.Field(), opWords[fe.Tag()], fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag())
	}
}

var opWords = map[string]string{
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
	"min": ">=",
	"max": "<=",
}
