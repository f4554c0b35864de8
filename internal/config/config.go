// Package config loads the process configuration from PERP_* environment
// variables and the optional YAML bootstrap file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event sinks for committed envelopes.
const (
	SinkNone  = "none"
	SinkNATS  = "nats"
	SinkKafka = "kafka"
)

// Config holds all application configuration.
type Config struct {
	// Listeners
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	// Postgres; empty runs on the in-memory store without an event log.
	PostgresDSN   string
	MigrationsDir string

	// Redis read-through cache and shared price dedup; empty disables.
	RedisURL string
	RedisTTL time.Duration

	// NATS price feed and outbound events; empty disables.
	NATSURL string

	// Outbound event sink: none, nats or kafka.
	EventSink    string
	KafkaBrokers []string
	KafkaTopic   string

	NodeID        int64
	BootstrapFile string
	LogLevel      string

	// Channels & persistence
	PersistChanSize    int
	PersistBatchSize   int
	SnapshotInterval   int64 // snapshot every N persisted events; 0 disables
	ProjectionChanSize int
	ProjectionPerUser  int
	PublishChanSize    int
	DedupCapacity      int

	// Keeper
	KeeperEnabled           bool
	KeeperInterval          time.Duration
	KeeperLiquidator        uuid.UUID
	KeeperMaxLiquidationPct int64
	KeeperSettleFunding     bool
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads the configuration through getenv.
func LoadFrom(getenv func(string) string) (Config, error) {
	env := lookup{getenv: getenv}
	cfg := Config{
		GRPCAddr:      env.str("PERP_GRPC_ADDR", ":9090"),
		HTTPAddr:      env.str("PERP_HTTP_ADDR", ":8080"),
		MetricsAddr:   env.str("PERP_METRICS_ADDR", ":9091"),
		PostgresDSN:   env.str("PERP_POSTGRES_DSN", ""),
		MigrationsDir: env.str("PERP_MIGRATIONS_DIR", "migrations"),
		RedisURL:      env.str("PERP_REDIS_URL", ""),
		RedisTTL:      env.duration("PERP_REDIS_TTL", 30*time.Second),
		NATSURL:       env.str("PERP_NATS_URL", ""),
		EventSink:     strings.ToLower(env.str("PERP_EVENT_SINK", SinkNone)),
		KafkaBrokers:  env.list("PERP_KAFKA_BROKERS"),
		KafkaTopic:    env.str("PERP_KAFKA_TOPIC", "perp.events"),
		NodeID:        int64(env.int("PERP_NODE_ID", 1)),
		BootstrapFile: env.str("PERP_BOOTSTRAP_FILE", ""),
		LogLevel:      env.str("PERP_LOG_LEVEL", "info"),

		PersistChanSize:    env.int("PERP_PERSIST_CHAN_SIZE", 1024),
		PersistBatchSize:   env.int("PERP_PERSIST_BATCH", 50),
		SnapshotInterval:   int64(env.int("PERP_SNAPSHOT_INTERVAL", 100_000)),
		ProjectionChanSize: env.int("PERP_PROJECTION_CHAN_SIZE", 2048),
		ProjectionPerUser:  env.int("PERP_PROJECTION_PER_USER", 1000),
		PublishChanSize:    env.int("PERP_PUBLISH_CHAN_SIZE", 4096),
		DedupCapacity:      env.int("PERP_DEDUP_CAPACITY", 100_000),

		KeeperEnabled:           env.bool("PERP_KEEPER_ENABLED", false),
		KeeperInterval:          env.duration("PERP_KEEPER_INTERVAL", time.Second),
		KeeperMaxLiquidationPct: int64(env.int("PERP_KEEPER_MAX_LIQUIDATION_PCT", 100)),
		KeeperSettleFunding:     env.bool("PERP_KEEPER_SETTLE_FUNDING", true),
	}
	if env.err != nil {
		return Config{}, env.err
	}

	if v := getenv("PERP_KEEPER_LIQUIDATOR"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return Config{}, fmt.Errorf("PERP_KEEPER_LIQUIDATOR: %w", err)
		}
		cfg.KeeperLiquidator = id
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.EventSink {
	case SinkNone:
	case SinkNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("PERP_EVENT_SINK=nats requires PERP_NATS_URL")
		}
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("PERP_EVENT_SINK=kafka requires PERP_KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("PERP_EVENT_SINK: unknown sink %q", c.EventSink)
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("PERP_NODE_ID must be in [0,1023], got %d", c.NodeID)
	}
	if c.KeeperMaxLiquidationPct < 1 || c.KeeperMaxLiquidationPct > 100 {
		return fmt.Errorf("PERP_KEEPER_MAX_LIQUIDATION_PCT must be in [1,100], got %d", c.KeeperMaxLiquidationPct)
	}
	if c.KeeperEnabled && c.KeeperLiquidator == uuid.Nil {
		return fmt.Errorf("PERP_KEEPER_ENABLED requires PERP_KEEPER_LIQUIDATOR")
	}
	return nil
}

// lookup reads typed variables and keeps the first parse error.
type lookup struct {
	getenv func(string) string
	err    error
}

func (l *lookup) fail(key, v string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("%s=%q: %w", key, v, err)
	}
}

func (l *lookup) str(key, def string) string {
	if v := l.getenv(key); v != "" {
		return v
	}
	return def
}

func (l *lookup) int(key string, def int) int {
	v := l.getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		l.fail(key, v, err)
		return def
	}
	return i
}

func (l *lookup) bool(key string, def bool) bool {
	v := l.getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(key, v, err)
		return def
	}
	return b
}

func (l *lookup) duration(key string, def time.Duration) time.Duration {
	v := l.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(key, v, err)
		return def
	}
	return d
}

func (l *lookup) list(key string) []string {
	var out []string
	for _, s := range strings.Split(l.getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
