package config

import (
	"fmt"
	"log"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the service.
type Config struct {
	Port        string `env:"PORT,default=8083"`
	GRPCPort    string `env:"GRPC_PORT,default=9083"`
	DatabaseDSN string `env:"DB_DSN"`
	LogLevel    string `env:"LOG_LEVEL,default=INFO"`

	MessageTTL          time.Duration `env:"MESSAGE_TTL,default=30m"`
	EditWindow          time.Duration `env:"EDIT_WINDOW,default=48h"`
	RoomCleanupInterval time.Duration `env:"ROOM_CLEANUP_INTERVAL,default=5m"`
	ExpirySweepInterval time.Duration `env:"EXPIRY_SWEEP_INTERVAL,default=1s"`
	PersistentRoomTTL   time.Duration `env:"PERSISTENT_ROOM_TTL,default=24h"`
	DefaultMaxUsers     int           `env:"DEFAULT_MAX_USERS,default=10"`
	MaxUsersLimit       int           `env:"MAX_USERS_LIMIT,default=100"`
	RoomCodeLength      int           `env:"ROOM_CODE_LENGTH,default=6"`
	PublicBaseURL       string        `env:"PUBLIC_BASE_URL,default=http://localhost:8083"`

	AMQPURL         string `env:"AMQP_URL"`
	AMQPExchange    string `env:"AMQP_EXCHANGE,default=chat.events"`
	AuditRoutingKey string `env:"AUDIT_ROUTING_KEY,default=audit.chat"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME,default=roomchat"`
	Environment  string `env:"ENVIRONMENT,default=local"`
	DebugRoutes  bool   `env:"DEBUG_ROUTES,default=false"`
}

// Load reads .env files when present and unmarshals the environment.
func Load() (Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		if err := godotenv.Load(); err != nil {
			log.Println(".env not found, using environment variables")
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the managers cannot work with.
func (c Config) Validate() error {
	if c.DefaultMaxUsers < 1 || c.DefaultMaxUsers > c.MaxUsersLimit {
		return fmt.Errorf("DEFAULT_MAX_USERS must be between 1 and %d, got %d", c.MaxUsersLimit, c.DefaultMaxUsers)
	}
	if c.RoomCodeLength < 4 {
		return fmt.Errorf("ROOM_CODE_LENGTH must be at least 4, got %d", c.RoomCodeLength)
	}
	if c.ExpirySweepInterval <= 0 {
		return fmt.Errorf("EXPIRY_SWEEP_INTERVAL must be positive, got %s", c.ExpirySweepInterval)
	}
	if c.RoomCleanupInterval <= 0 {
		return fmt.Errorf("ROOM_CLEANUP_INTERVAL must be positive, got %s", c.RoomCleanupInterval)
	}
	return nil
}
