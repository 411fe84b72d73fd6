package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kelseyhightower/envconfig"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/lycento/lycento-sdk-go/lycento"
	"github.com/lycento/lycento-sdk-go/lycento/activationlog"
)

// envPrefix is shared with lycento.ConfigFromEnv.
const envPrefix = "LYCENTO"

const defaultMongoDatabase = "lycento"

// settings is the resolved CLI configuration. The same struct is filled from
// the YAML file and then from the environment; unset variables keep the file
// values.
type settings struct {
	BaseURL   string          `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey    string          `yaml:"api_key" envconfig:"API_KEY"`
	TimeoutMS int64           `yaml:"timeout_ms" envconfig:"TIMEOUT_MS"`
	LogLevel  string          `yaml:"log_level" envconfig:"LOG_LEVEL"`
	Trace     bool            `yaml:"trace" envconfig:"TRACE"`
	Journal   journalSettings `yaml:"journal" envconfig:"JOURNAL"`
}

// journalSettings selects where activation attempts are recorded. Fields are
// read from LYCENTO_JOURNAL_DRIVER, LYCENTO_JOURNAL_URL and so on.
type journalSettings struct {
	// Driver is "memory" (default), "postgres" or "mongo".
	Driver   string `yaml:"driver"`
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
}

// loadSettings reads path (when non-empty) and overlays LYCENTO_* variables.
func loadSettings(path string) (settings, error) {
	var s settings
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &s); err != nil {
			return s, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return s, fmt.Errorf("read environment: %w", err)
	}
	return s, nil
}

// clientConfig converts s into a lycento.Config. A zero timeout keeps the
// SDK default.
func (s settings) clientConfig() lycento.Config {
	cfg := lycento.NewConfig(s.BaseURL)
	if s.APIKey != "" {
		cfg = cfg.WithAPIKey(s.APIKey)
	}
	if s.TimeoutMS != 0 {
		cfg = cfg.WithTimeout(s.TimeoutMS)
	}
	return cfg
}

// newLogger builds a console logger on stderr. An empty level disables
// logging so stdout stays clean JSON.
func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// newTracerProvider exports every span to w as it ends.
func newTracerProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)), nil
}

// openJournal opens the configured activation journal. The returned close
// function releases the journal and its database connection.
func openJournal(ctx context.Context, s journalSettings) (activationlog.Journal, func(context.Context) error, error) {
	switch s.Driver {
	case "", "memory":
		j := activationlog.NewMemoryJournal()
		return j, j.Close, nil

	case "postgres":
		if s.URL == "" {
			return nil, nil, fmt.Errorf("journal driver postgres requires a url")
		}
		pool, err := pgxpool.New(ctx, s.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		var opts []activationlog.PostgresOption
		if s.Table != "" {
			opts = append(opts, activationlog.WithTableName(s.Table))
		}
		j, err := activationlog.NewPostgresJournal(ctx, pool, opts...)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return j, func(ctx context.Context) error {
			err := j.Close(ctx)
			pool.Close()
			return err
		}, nil

	case "mongo":
		if s.URL == "" {
			return nil, nil, fmt.Errorf("journal driver mongo requires a url")
		}
		client, err := mongo.Connect(options.Client().ApplyURI(s.URL))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongo: %w", err)
		}
		database := s.Database
		if database == "" {
			database = defaultMongoDatabase
		}
		var opts []activationlog.MongoOption
		if s.Table != "" {
			opts = append(opts, activationlog.WithCollectionName(s.Table))
		}
		j, err := activationlog.NewMongoJournal(ctx, client.Database(database), opts...)
		if err != nil {
			client.Disconnect(ctx)
			return nil, nil, err
		}
		return j, func(ctx context.Context) error {
			err := j.Close(ctx)
			if derr := client.Disconnect(ctx); err == nil {
				err = derr
			}
			return err
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown journal driver %q (want memory, postgres or mongo)", s.Driver)
	}
}
