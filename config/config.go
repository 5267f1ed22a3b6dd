// Package config loads service configuration from environment variables.
package config

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog/sqlite"
	eventtables "github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog/tables"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/notify"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
	viewtables "github.com/Soyelijah/dashboard-dysaeats-sub001/projection/tables"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/telemetry"
)

// Backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendTables = "tables"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Storage selects and configures the event log and read model backends.
type Storage struct {
	Backend          string `env:"STORAGE_BACKEND" envDefault:"memory"`
	ReadModelBackend string `env:"READ_MODEL_BACKEND" envDefault:"memory"`
	SQLitePath       string `env:"SQLITE_PATH" envDefault:"events.db"`
	ConnectionString string `env:"STORAGE_CONNECTION_STRING"`
	EventsTable      string `env:"EVENTS_TABLE" envDefault:"Events"`
	SnapshotsTable   string `env:"SNAPSHOTS_TABLE" envDefault:"Snapshots"`
	EventsQueue      string `env:"DOMAIN_EVENTS_QUEUE"`
	ReadModel        viewtables.Names
}

func (s Storage) Validate() error {
	switch s.Backend {
	case BackendMemory, BackendSQLite:
	case BackendTables:
		if s.ConnectionString == "" {
			return fmt.Errorf("STORAGE_CONNECTION_STRING is required for the %s backend", s.Backend)
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", s.Backend)
	}
	switch s.ReadModelBackend {
	case BackendMemory:
	case BackendTables:
		if s.ConnectionString == "" {
			return fmt.Errorf("STORAGE_CONNECTION_STRING is required for the %s read model", s.ReadModelBackend)
		}
	default:
		return fmt.Errorf("unknown READ_MODEL_BACKEND %q", s.ReadModelBackend)
	}
	if s.EventsQueue != "" && s.ConnectionString == "" {
		return fmt.Errorf("STORAGE_CONNECTION_STRING is required for DOMAIN_EVENTS_QUEUE")
	}
	return nil
}

// OpenBackend opens the configured event log backend.
func (s Storage) OpenBackend() (eventlog.Backend, error) {
	switch s.Backend {
	case BackendMemory:
		return eventlog.NewMemoryBackend(), nil
	case BackendSQLite:
		return sqlite.Open(s.SQLitePath)
	case BackendTables:
		return eventtables.New(s.ConnectionString, s.EventsTable, s.SnapshotsTable)
	}
	return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", s.Backend)
}

// OpenReadModel opens the configured read model.
func (s Storage) OpenReadModel() (projection.Store, error) {
	switch s.ReadModelBackend {
	case BackendMemory:
		return projection.NewMemoryStore(), nil
	case BackendTables:
		return viewtables.New(s.ConnectionString, s.ReadModel)
	}
	return nil, fmt.Errorf("unknown READ_MODEL_BACKEND %q", s.ReadModelBackend)
}

// EventLog tunes the log facade.
type EventLog struct {
	SnapshotInterval int           `env:"SNAPSHOT_INTERVAL" envDefault:"10"`
	StoreTimeout     time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
}

func (c EventLog) Options(logger *log.Logger) []eventlog.Option {
	return []eventlog.Option{
		eventlog.WithSnapshotInterval(c.SnapshotInterval),
		eventlog.WithTimeout(c.StoreTimeout),
		eventlog.WithLogger(logger),
	}
}

type Redis struct {
	ConnectionString string        `env:"REDIS_CONNECTION_STRING"`
	CacheTTL         time.Duration `env:"ORDER_CACHE_TTL" envDefault:"12h"`
	UpdatesChannel   string        `env:"ORDER_UPDATES_CHANNEL" envDefault:"order-updates"`
}

// Enabled reports whether a Redis connection is configured.
func (r Redis) Enabled() bool { return r.ConnectionString != "" }

// Options accepts a redis:// URL or an Azure style
// "host:port,password=...,ssl=True" connection string.
func (r Redis) Options() (*redis.Options, error) {
	if r.ConnectionString == "" {
		return nil, fmt.Errorf("missing redis config")
	}
	if opts, err := redis.ParseURL(r.ConnectionString); err == nil {
		return opts, nil
	}
	parts := strings.Split(r.ConnectionString, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

func (r Redis) Client() (*redis.Client, error) {
	opts, err := r.Options()
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

type Auth struct {
	Domain            string `env:"AUTH0_DOMAIN"`
	Audience          string `env:"AUTH0_AUDIENCE"`
	LocalMode         bool   `env:"LOCAL_AUTH_MODE"`
	LocalSharedSecret string `env:"LOCAL_AUTH_SHARED_SECRET"`
}

func (a Auth) Validate() error {
	if a.LocalMode {
		if a.LocalSharedSecret == "" {
			return fmt.Errorf("LOCAL_AUTH_SHARED_SECRET is required in local auth mode")
		}
		return nil
	}
	if a.Domain == "" || a.Audience == "" {
		return fmt.Errorf("missing Auth0 config")
	}
	return nil
}

// API configures the order-api service.
type API struct {
	Debug           bool          `env:"DEBUG"`
	Port            string        `env:"FUNCTIONS_CUSTOMHANDLER_PORT" envDefault:"8080"`
	ConflictRetries int           `env:"COMMAND_CONFLICT_RETRIES" envDefault:"0"`
	DeduperTTL      time.Duration `env:"DEDUPER_TTL" envDefault:"24h"`
	// Projectors run in process unless a separate read-model-updater
	// consumes the relayed events.
	InlineProjectors  bool          `env:"INLINE_PROJECTORS" envDefault:"true"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	Storage           Storage
	EventLog          EventLog
	Redis             Redis
	Auth              Auth
	Notify            notify.Config
	Telemetry         telemetry.Config
}

func LoadAPI() (API, error) {
	var c API
	if err := ParseEnv(&c); err != nil {
		return c, err
	}
	if err := c.Storage.Validate(); err != nil {
		return c, err
	}
	if c.ConflictRetries < 0 {
		return c, fmt.Errorf("COMMAND_CONFLICT_RETRIES must not be negative")
	}
	return c, c.Auth.Validate()
}

// Updater configures the read-model-updater service.
type Updater struct {
	Debug             bool          `env:"DEBUG"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
	MaxAttempts       int           `env:"PROJECTION_MAX_ATTEMPTS" envDefault:"3"`
	QueueBatchSize    int32         `env:"QUEUE_BATCH_SIZE" envDefault:"16"`
	QueueIdleDelay    time.Duration `env:"QUEUE_IDLE_DELAY" envDefault:"1s"`
	Storage           Storage
	EventLog          EventLog
	Redis             Redis
	Notify            notify.Config
	Telemetry         telemetry.Config
}

func LoadUpdater() (Updater, error) {
	var c Updater
	if err := ParseEnv(&c); err != nil {
		return c, err
	}
	if err := c.Storage.Validate(); err != nil {
		return c, err
	}
	if c.Storage.EventsQueue == "" {
		return c, fmt.Errorf("DOMAIN_EVENTS_QUEUE is required")
	}
	return c, nil
}

// ConfigureLogging switches logrus to debug level when asked.
func ConfigureLogging(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
	}
}

// Stream configures the order-stream service.
type Stream struct {
	Debug     bool          `env:"DEBUG"`
	Port      string        `env:"STREAM_SERVICE_PORT" envDefault:"9000"`
	Heartbeat time.Duration `env:"STREAM_HEARTBEAT" envDefault:"15s"`
	Buffer    int           `env:"STREAM_SUBSCRIBER_BUFFER" envDefault:"64"`
	Storage   Storage
	Redis     Redis
	Auth      Auth
	Telemetry telemetry.Config
}

func LoadStream() (Stream, error) {
	var c Stream
	if err := ParseEnv(&c); err != nil {
		return c, err
	}
	if err := c.Storage.Validate(); err != nil {
		return c, err
	}
	if !c.Redis.Enabled() {
		return c, fmt.Errorf("REDIS_CONNECTION_STRING is required")
	}
	if c.Buffer <= 0 {
		return c, fmt.Errorf("STREAM_SUBSCRIBER_BUFFER must be positive")
	}
	return c, c.Auth.Validate()
}

// Provision configures storage-init.
type Provision struct {
	Debug   bool `env:"DEBUG"`
	Storage Storage
}

func LoadProvision() (Provision, error) {
	var c Provision
	if err := ParseEnv(&c); err != nil {
		return c, err
	}
	return c, c.Storage.Validate()
}

// Tables lists every Azure table the configured backends use.
func (s Storage) Tables() []string {
	var out []string
	if s.Backend == BackendTables {
		out = append(out, s.EventsTable, s.SnapshotsTable)
	}
	if s.ReadModelBackend == BackendTables {
		out = append(out, s.ReadModel.All()...)
	}
	return out
}

// Admin configures eventlog-admin.
type Admin struct {
	Debug    bool `env:"DEBUG"`
	Storage  Storage
	EventLog EventLog
	Redis    Redis
}

func LoadAdmin() (Admin, error) {
	var c Admin
	if err := ParseEnv(&c); err != nil {
		return c, err
	}
	return c, c.Storage.Validate()
}
