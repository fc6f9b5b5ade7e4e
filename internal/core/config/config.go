package config

import (
	"time"

	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/infra/cache"
	"github.com/vietddude/printguard/internal/infra/connection"
	"github.com/vietddude/printguard/internal/infra/mqtt"
	redisclient "github.com/vietddude/printguard/internal/infra/redis"
	"github.com/vietddude/printguard/internal/infra/storage/sqlstore"
	"github.com/vietddude/printguard/internal/printing/correction"
	"github.com/vietddude/printguard/internal/printing/service"
)

// Persistence backends for the cache snapshot.
const (
	PersistNone     = ""
	PersistRedis    = "redis"
	PersistDatabase = "database"
)

// Event sinks.
const (
	SinkLog   = "log"
	SinkMQTT  = "mqtt"
	SinkRedis = "redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig              `yaml:"server"`
	Logging     LoggingConfig             `yaml:"logging"`
	Cache       cache.Config              `yaml:"cache"`
	Pool        connection.Config         `yaml:"pool"`
	Policies    service.Policies          `yaml:"policies"`
	Correction  correction.Config         `yaml:"correction"`
	Device      DeviceConfig              `yaml:"device"`
	Persistence PersistenceConfig         `yaml:"persistence"`
	Events      EventsConfig              `yaml:"events"`
	Redis       redisclient.Config        `yaml:"redis"`
	Database    sqlstore.Config           `yaml:"database"`
	MQTT        mqtt.Config               `yaml:"mqtt"`
	Devices     []domain.DeviceDescriptor `yaml:"devices"`
}

// ServerConfig holds health server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 = disabled
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DeviceConfig holds transport settings for printer connections.
type DeviceConfig struct {
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// PersistenceConfig selects where the cache snapshot and job log live.
type PersistenceConfig struct {
	Backend      string        `yaml:"backend"`       // "", redis, database
	JobLog       bool          `yaml:"job_log"`       // requires database
	JobRetention time.Duration `yaml:"job_retention"` // 0 = keep forever
}

// EventsConfig selects the lifecycle event sink.
type EventsConfig struct {
	Sink string `yaml:"sink"` // log, mqtt, redis
}

// Default returns the configuration used for any key the file leaves out.
func Default() AppConfig {
	return AppConfig{
		Server:     ServerConfig{Port: 8080},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
		Cache:      cache.DefaultConfig,
		Pool:       connection.DefaultConfig,
		Policies:   service.DefaultPolicies,
		Correction: correction.DefaultConfig,
		Device:     DeviceConfig{ReadTimeout: 5 * time.Second},
		Events:     EventsConfig{Sink: SinkLog},
		Database:   sqlstore.Config{Driver: sqlstore.DriverPostgres},
		MQTT:       mqtt.Config{Port: 1883, ClientID: "printguard", QoS: 1},
	}
}

// Service returns the service wiring derived from the file.
func (c *AppConfig) Service() service.Config {
	return service.Config{
		Cache:      c.Cache,
		Pool:       c.Pool,
		Policies:   c.Policies,
		Correction: c.Correction,
	}
}
