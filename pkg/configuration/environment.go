package configuration

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c, err := Load([]string{".env", ".env.local"})
	if err != nil {
		panic(err)
	}
	return c
})

// LoadEnv loads the env files that exist in the working directory. When none
// of them exist there, the nearest ancestor holding a go.mod is tried instead.
func LoadEnv(envFiles []string) (int, error) {
	existing := existingFiles("", envFiles)
	if len(existing) == 0 {
		if root, ok := findModuleRoot(); ok {
			existing = existingFiles(root, envFiles)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func existingFiles(dir string, files []string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		path := f
		if dir != "" {
			path = filepath.Join(dir, f)
		}
		if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
			out = append(out, path)
		}
	}
	return out
}

func findModuleRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if fi, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil && !fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"ods"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	URL      string `env:"DATABASE_URL"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"10" validate:"gte=1"`
	MinConns int32  `env:"DB_MIN_CONNS" envDefault:"2" validate:"gte=0,ltefield=MaxConns"`
}

func (d *DatabaseOptions) ConnectionString() string {
	if strings.TrimSpace(d.URL) != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type RedisOptions struct {
	URL       string        `env:"REDIS_URL" validate:"omitempty,url"`
	KeyPrefix string        `env:"REDIS_KEY_PREFIX" envDefault:"ods:"`
	TTL       time.Duration `env:"POSTCODE_CACHE_TTL" envDefault:"24h" validate:"gte=0"`
}

func (r RedisOptions) Enabled() bool {
	return strings.TrimSpace(r.URL) != ""
}

type IngestOptions struct {
	// Zero means runtime.GOMAXPROCS(0).
	Workers             int  `env:"INGEST_WORKERS" envDefault:"0" validate:"gte=0"`
	BatchSize           int  `env:"INGEST_BATCH_SIZE" envDefault:"500" validate:"gte=1,lte=10000"`
	ChannelBuffer       int  `env:"INGEST_CHANNEL_BUFFER" envDefault:"1024" validate:"gte=0"`
	MaintainSearchIndex bool `env:"INGEST_MAINTAIN_SEARCH_INDEX" envDefault:"false"`
}

func (o *IngestOptions) Validate() error {
	return validateStruct(o)
}

// EffectiveWorkers resolves the zero value to the available parallelism.
func (o IngestOptions) EffectiveWorkers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

type PrometheusOptions struct {
	Addr string `env:"PROMETHEUS_METRICS_ADDR" envDefault:""`
	Path string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus" validate:"startswith=/"`
}

// validate reports fields by their env variable name.
var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("env"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}()

func validateStruct(s any) error {
	err := validate.Struct(s)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		msgs = append(msgs, fmt.Sprintf("%s, got %v", msg, fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

type Configuration struct {
	Database   DatabaseOptions
	Redis      RedisOptions
	Ingest     IngestOptions
	Prometheus PrometheusOptions

	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat        string `env:"LOG_FORMAT" envDefault:"text"`

	logger *logrus.Logger
}

// Load reads env files and the process environment into a fresh Configuration.
func Load(envFiles []string) (*Configuration, error) {
	c := &Configuration{}
	if err := c.load(envFiles); err != nil {
		return nil, err
	}
	return c, nil
}

// Use returns the process-wide configuration. Library code takes a
// *Configuration (or the narrower options) explicitly instead.
func Use() *Configuration {
	return singleton()
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}
	if err := validateStruct(c); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	c.Database.Opts = c.Database.ConnectionString()
	c.logger = newLogger(c.LogrusLogLevel(), c.LogFormat)
	return nil
}

func newLogger(level logrus.Level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
