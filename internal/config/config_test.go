package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "content_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "content_exchange"},
			Queue: QueueConfig{
				Name:            "generate-content",
				ConsumerTimeout: 5 * time.Minute,
			},
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Worker: WorkerConfig{
			Concurrency:       4,
			JobTimeout:        2 * time.Minute,
			HeartbeatInterval: 30 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			LockTTL:           3 * time.Minute,
			Sweeper: SweeperConfig{
				Enabled:    true,
				Interval:   time.Minute,
				StuckAfter: 10 * time.Minute,
			},
		},
		Jobs: JobsConfig{Delay: time.Minute},
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "content_db", cfg.Database.Database)
				assert.Equal(t, "content_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "generate-content", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, time.Minute, cfg.Jobs.Delay)
				assert.Equal(t, "content-api-service", cfg.App.Name)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "content_exchange.events", cfg.RabbitMQ.Exchange.EventsName)
	assert.Equal(t, "generate-content.delay", cfg.RabbitMQ.Queue.DelayName)
	assert.Equal(t, "generate-content.dead", cfg.RabbitMQ.Queue.DeadLetterName)
	assert.Equal(t, "generate-content", cfg.RabbitMQ.RoutingKey)
	assert.Equal(t, "gemini-2.5-flash-lite", cfg.Generation.Model)
	assert.Equal(t, 16, cfg.Notify.SubscriberBuffer)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_PASSWORD", "from-env")
	t.Setenv("GEMINI_API_KEY", "key-from-env")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("JOBS_DELAY", "5s")

	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.Equal(t, "key-from-env", cfg.Generation.APIKey)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 5*time.Second, cfg.Jobs.Delay)
	// untouched values keep the file contents
	assert.Equal(t, "postgres", cfg.Database.User)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.ValidateAPIConfig())

	cfg.Jobs.Delay = -time.Second
	err := cfg.ValidateAPIConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jobs delay")
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency",
		},
		{
			name:      "zero job timeout",
			mutate:    func(c *Config) { c.Worker.JobTimeout = 0 },
			errString: "worker job_timeout",
		},
		{
			name:      "zero heartbeat interval",
			mutate:    func(c *Config) { c.Worker.HeartbeatInterval = 0 },
			errString: "worker heartbeat_interval",
		},
		{
			name:      "lock shorter than job timeout",
			mutate:    func(c *Config) { c.Worker.LockTTL = time.Minute },
			errString: "lock_ttl",
		},
		{
			name:      "broker deadline shorter than job timeout",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.ConsumerTimeout = time.Minute },
			errString: "consumer_timeout",
		},
		{
			name:      "sweeper threshold below job timeout",
			mutate:    func(c *Config) { c.Worker.Sweeper.StuckAfter = time.Minute },
			errString: "stuck_after",
		},
		{
			name:      "missing redis",
			mutate:    func(c *Config) { c.Redis.Addr = "" },
			errString: "redis addr",
		},
		{
			name:      "shared section still checked",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
	}

	require.NoError(t, validConfig().ValidateWorkerConfig())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.ValidateWorkerConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.NoError(t, err)
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "content_db", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=content_db sslmode=disable", d.DSN())
}
