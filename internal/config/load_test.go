package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_HappyPath(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "config_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	tempConfigsSubDir := filepath.Join(tempDir, "configs")
	err = os.Mkdir(tempConfigsSubDir, 0755)
	require.NoError(t, err)

	testAppName := "TestApp"
	testPort := 9090
	testLogLevel := "debug"
	testKafkaBrokers := "kafka1:9092,kafka2:9092"

	envContent := fmt.Sprintf(
		"APP_NAME=%s\nSERVER_PORT=%d\nLOG_LEVEL=%s\nKAFKA_BROKERS=%s\n",
		testAppName, testPort, testLogLevel, testKafkaBrokers,
	)
	envFilePath := filepath.Join(tempConfigsSubDir, "test_happy.env")
	err = os.WriteFile(envFilePath, []byte(envContent), 0644)
	require.NoError(t, err)

	originalWD, err := os.Getwd()
	require.NoError(t, err)
	defer func() {
		_ = os.Chdir(originalWD)
	}()

	err = os.Chdir(tempDir)
	require.NoError(t, err)

	cfg, err := LoadConfig("test_happy")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, testAppName, cfg.Application.Name)
	assert.Equal(t, testPort, cfg.Server.Port)
	assert.Equal(t, testLogLevel, cfg.Logging.Level)
	assert.Equal(t, testKafkaBrokers, cfg.Kafka.Brokers)

	// Defaults survive for everything the file does not set
	assert.Equal(t, "development", cfg.Application.Env)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "payment_audit_events", cfg.Kafka.AuditTopic)
	assert.Equal(t, "payment_audit_events_dlq", cfg.Kafka.DLQTopic)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoDB.URI)
	assert.Equal(t, 5*time.Second, cfg.AuditRelay.PollingInterval)
	assert.Equal(t, 100, cfg.AuditRelay.BatchSize)
	assert.Equal(t, 5, cfg.AuditRelay.MaxDispatchAttempts)
	assert.Equal(t, 10, cfg.WorkerPool.Size)

	cfgWithName, err := LoadConfigWithName("configs/test_happy")
	require.NoError(t, err)
	require.NotNil(t, cfgWithName)
	assert.Equal(t, testAppName, cfgWithName.Application.Name)

	cfgWithNameAndType, err := LoadConfigWithNameAndType("configs/test_happy", "env")
	require.NoError(t, err)
	require.NotNil(t, cfgWithNameAndType)
	assert.Equal(t, testAppName, cfgWithNameAndType.Application.Name)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Application: ApplicationConfig{Env: "development", Name: "payment-ledger"},
			Logging:     LoggingConfig{Level: "info"},
			Server: ServerConfig{
				Port:            8080,
				ShutdownTimeout: 30 * time.Second,
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
			},
			Kafka: KafkaConfig{
				Brokers:       "localhost:9092",
				AuditTopic:    "payment_audit_events",
				ConsumerGroup: "audit-archiver-group",
				MinBytes:      1,
				MaxBytes:      1024,
				MaxWait:       time.Second,
				DLQTopic:      "payment_audit_events_dlq",
			},
			Postgres: PostgresConfig{
				URL:             "postgres://localhost:5432/payment_ledger",
				MaxConns:        10,
				MinConns:        2,
				ConnMaxLifetime: time.Hour,
				ConnMaxIdleTime: time.Minute,
			},
			MongoDB: MongoDBConfig{
				URI:             "mongodb://localhost:27017",
				Database:        "payment_ledger",
				Timeout:         10 * time.Second,
				MaxPoolSize:     10,
				MinPoolSize:     1,
				MaxConnIdleTime: time.Minute,
			},
			AuditRelay: AuditRelayConfig{
				PollingInterval:     5 * time.Second,
				BatchSize:           100,
				MaxDispatchAttempts: 5,
			},
			WorkerPool: WorkerPoolConfig{Size: 10},
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		assert.NoError(t, valid().validate())
	})

	t.Run("missing audit topic", func(t *testing.T) {
		cfg := valid()
		cfg.Kafka.AuditTopic = ""
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "KAFKA_AUDIT_TOPIC")
	})

	t.Run("missing postgres url", func(t *testing.T) {
		cfg := valid()
		cfg.Postgres.URL = ""
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "POSTGRES_URL")
	})

	t.Run("invalid relay settings", func(t *testing.T) {
		cfg := valid()
		cfg.AuditRelay.BatchSize = 0
		cfg.AuditRelay.MaxDispatchAttempts = 0
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AUDIT_RELAY_BATCH_SIZE")
		assert.Contains(t, err.Error(), "AUDIT_RELAY_MAX_DISPATCH_ATTEMPTS")
	})

	t.Run("invalid worker pool size", func(t *testing.T) {
		cfg := valid()
		cfg.WorkerPool.Size = 0
		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "WORKER_POOL_SIZE")
	})
}
