package config

import (
	"fmt"
	"time"
)

type StorageType string

type QueueType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"
const STORAGE_TYPE_SQLITE StorageType = "sqlite"

const QUEUE_TYPE_REDIS QueueType = "redis"
const QUEUE_TYPE_INMEM QueueType = "memory"

type EncoderDecoderType string

const JSON_ENCODER_DECODER EncoderDecoderType = "JSON"

type Config struct {
	RedisConfig        RedisStorageConfig
	SqliteConfig       SqliteStorageConfig
	CassandraConfig    CassandraConfig
	HttpPort           int
	GrpcPort           int
	StorageType        StorageType
	QueueType          QueueType
	EncoderDecoderType EncoderDecoderType
	ClusterConfig      ClusterConfig
	EngineConfig       EngineConfig
	SchedulerConfig    SchedulerConfig
	NotifierConfig     NotifierConfig
	AnalyticsFile      string
	DefinitionsFile    string
	AssetLockTimeout   time.Duration
	LogLevel           string
}

type ClusterConfig struct {
	NodeName       string
	BindAddr       string
	Tags           map[string]string
	StartJoinAddrs []string
	PartitionCount int
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}

type SqliteStorageConfig struct {
	Path string
}

// CassandraConfig moves definitions and system config to cassandra when Hosts is set.
type CassandraConfig struct {
	Hosts    []string
	Keyspace string
}

type EngineConfig struct {
	Workers                int
	BatchSize              int
	PollInterval           time.Duration
	VisibilityTimeout      time.Duration
	MaxDeliveries          int
	MonitorInitialInterval time.Duration
	MonitorMaxInterval     time.Duration
	OperationTimeout       time.Duration
	LockRetryCount         int
	LockRetryInterval      time.Duration
	CommitRetries          int
}

type SchedulerConfig struct {
	Interval                      time.Duration
	DefaultMaxConcurrentWorkflows int
	ConflictRetries               int
	StallTimeout                  time.Duration
}

type NotifierConfig struct {
	RedisChannel string
	LogFile      string
	Capacity     int
}

// Validate rejects settings under which a delivery could expire while it is still being handled.
func (c EngineConfig) Validate() error {
	if c.VisibilityTimeout <= 0 {
		return fmt.Errorf("visibility timeout must be positive, got %s", c.VisibilityTimeout)
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive, got %s", c.OperationTimeout)
	}
	if c.MaxDeliveries < 1 {
		return fmt.Errorf("max deliveries must be at least 1, got %d", c.MaxDeliveries)
	}
	if c.Workers < 1 || c.BatchSize < 1 {
		return fmt.Errorf("workers and batch size must be at least 1")
	}
	return nil
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Workers:                8,
		BatchSize:              16,
		PollInterval:           time.Second,
		VisibilityTimeout:      15 * time.Minute,
		MaxDeliveries:          2,
		MonitorInitialInterval: 5 * time.Second,
		MonitorMaxInterval:     2 * time.Minute,
		OperationTimeout:       2 * time.Hour,
		LockRetryCount:         3,
		LockRetryInterval:      200 * time.Millisecond,
		CommitRetries:          10,
	}
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:                      60 * time.Second,
		DefaultMaxConcurrentWorkflows: 10,
		ConflictRetries:               5,
	}
}
