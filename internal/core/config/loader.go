package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/printguard/internal/infra/storage/sqlstore"
)

// Load reads configuration from a YAML file on top of Default.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content on top of Default and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	cfg := Default()
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port %d out of range", c.Server.GRPCPort))
	}

	switch c.Persistence.Backend {
	case PersistNone:
	case PersistRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("persistence.backend redis requires redis.url"))
		}
	case PersistDatabase:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("persistence.backend database requires database.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown persistence.backend %q", c.Persistence.Backend))
	}
	if c.Persistence.JobLog && c.Database.URL == "" {
		errs = append(errs, errors.New("persistence.job_log requires database.url"))
	}

	if c.Database.URL != "" {
		switch c.Database.Driver {
		case sqlstore.DriverPostgres, sqlstore.DriverPgx, sqlstore.DriverSQLite:
		default:
			errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
		}
	}

	switch c.Events.Sink {
	case SinkLog, "":
	case SinkMQTT:
		if c.MQTT.Host == "" {
			errs = append(errs, errors.New("events.sink mqtt requires mqtt.host"))
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS))
		}
	case SinkRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("events.sink redis requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown events.sink %q", c.Events.Sink))
	}

	for i, d := range c.Devices {
		if d.Address == "" {
			errs = append(errs, fmt.Errorf("devices[%d] has no address", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
