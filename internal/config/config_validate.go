package config

import "fmt"

// Validate checks that required configuration is present and internally
// consistent, mirroring the teacher's per-section validate* breakdown.
func (c *Config) Validate() error {
	if err := c.validatePostgres(); err != nil {
		return err
	}
	if err := c.validateAggregate(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateSnapshot(); err != nil {
		return err
	}
	if err := c.validateHTTP(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePostgres() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.Postgres.MaxConns < c.Postgres.MinConns {
		return fmt.Errorf("postgres.max_conns (%d) must be >= postgres.min_conns (%d)", c.Postgres.MaxConns, c.Postgres.MinConns)
	}
	return nil
}

func (c *Config) validateAggregate() error {
	if c.Aggregate.ShardCount <= 0 {
		return fmt.Errorf("aggregate.shard_count must be positive, got %d", c.Aggregate.ShardCount)
	}
	if c.Aggregate.MaxRetries <= 0 {
		return fmt.Errorf("aggregate.max_retries must be positive, got %d", c.Aggregate.MaxRetries)
	}
	return nil
}

// validateNATS only enforces a URL when the wake bus is enabled: disabled
// NATS falls back to notify.Noop, which needs no configuration at all.
func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.enabled=true")
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.Capacity <= 0 {
		return fmt.Errorf("ratelimit.capacity must be positive, got %f", c.RateLimit.Capacity)
	}
	if c.RateLimit.RefillRate < 0 {
		return fmt.Errorf("ratelimit.refill_rate must not be negative, got %f", c.RateLimit.RefillRate)
	}
	return nil
}

func (c *Config) validateSnapshot() error {
	if c.Snapshot.CheckpointAge <= 0 {
		return fmt.Errorf("snapshot.checkpoint_age must be positive")
	}
	if c.Snapshot.LeaseStorePath == "" {
		return fmt.Errorf("snapshot.lease_store_path is required")
	}
	return nil
}

func (c *Config) validateHTTP() error {
	if c.HTTP.ListenAddr == "" {
		return fmt.Errorf("http.listen_addr is required")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug|info|warn|error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be one of json|console, got %q", c.Logging.Format)
	}
	return nil
}
