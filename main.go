package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohitkumar/mediaflow/agent"
	"github.com/mohitkumar/mediaflow/config"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/notifier"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	engine := config.DefaultEngineConfig()
	sched := config.DefaultSchedulerConfig()

	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("redis-password", "", "redis password")
	cmd.Flags().Int("redis-pool-size", 0, "redis connections per node, 0 uses the client default")
	cmd.Flags().String("namespace", "mediaflow", "namespace used in storage")
	cmd.Flags().String("sqlite-path", "mediaflow.db", "path of the sqlite database file")
	cmd.Flags().String("cassandra-hosts", "", "comma separated cassandra hosts holding definitions, empty keeps them in the main storage")
	cmd.Flags().String("cassandra-keyspace", "mediaflow", "existing cassandra keyspace for definitions")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().Int("grpc-port", 8099, "grpc port for the execution service, 0 disables it")
	cmd.Flags().String("storage-impl", "redis", "implementation of underline storage: redis, sqlite or memory")
	cmd.Flags().String("queue-impl", "redis", "implementation of underline queue: redis or memory")
	cmd.Flags().String("encoder-decoder", "JSON", "encoder decoder used to serialzie data")
	cmd.Flags().String("log-level", "info", "log level")
	cmd.Flags().String("analytics-file", "", "file receiving operation analytics records")
	cmd.Flags().String("definitions-file", "", "yaml file with operations, stages and workflows to register on start")
	cmd.Flags().Duration("asset-lock-timeout", 0, "force release asset locks older than this, 0 disables")

	cmd.Flags().String("node-name", "node-1", "unique name of this node in the cluster")
	cmd.Flags().String("bind-addr", "", "serf bind address, empty runs without membership")
	cmd.Flags().String("join-addrs", "", "comma separated serf addresses to join")
	cmd.Flags().Int("partitions", 16, "number of stage queue partitions")

	cmd.Flags().Int("engine-workers", engine.Workers, "concurrent stage message handlers")
	cmd.Flags().Int("batch-size", engine.BatchSize, "stage messages polled per partition and tick")
	cmd.Flags().Duration("poll-interval", engine.PollInterval, "stage queue poll interval")
	cmd.Flags().Duration("visibility-timeout", engine.VisibilityTimeout, "time a delivered message stays hidden")
	cmd.Flags().Int("max-deliveries", engine.MaxDeliveries, "deliveries before a message is dead lettered")
	cmd.Flags().Duration("monitor-initial-interval", engine.MonitorInitialInterval, "first delay between monitor calls")
	cmd.Flags().Duration("monitor-max-interval", engine.MonitorMaxInterval, "max delay between monitor calls")
	cmd.Flags().Duration("operation-timeout", engine.OperationTimeout, "default operation timeout")
	cmd.Flags().Int("lock-retry-count", engine.LockRetryCount, "asset lock attempts per write")
	cmd.Flags().Duration("lock-retry-interval", engine.LockRetryInterval, "wait between asset lock attempts")
	cmd.Flags().Int("commit-retries", engine.CommitRetries, "execution commit attempts on version conflict")

	cmd.Flags().Duration("scheduler-interval", sched.Interval, "workflow scheduler tick")
	cmd.Flags().Int("max-concurrent-workflows", sched.DefaultMaxConcurrentWorkflows, "cap used until one is stored")
	cmd.Flags().Int("scheduler-conflict-retries", sched.ConflictRetries, "failure commit attempts on version conflict")
	cmd.Flags().Duration("stall-timeout", sched.StallTimeout, "fail active executions not updated for this long, 0 disables")

	cmd.Flags().String("notify-channel", notifier.DEFAULT_CHANNEL, "redis pub/sub channel for execution events")
	cmd.Flags().String("notify-log-file", "", "file receiving execution events")
	cmd.Flags().Int("notify-capacity", 1024, "buffered execution events")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configFile != "" {
			return err
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.RedisConfig.Password = viper.GetString("redis-password")
	c.cfg.RedisConfig.PoolSize = viper.GetInt("redis-pool-size")
	c.cfg.SqliteConfig.Path = viper.GetString("sqlite-path")
	if hosts := viper.GetString("cassandra-hosts"); hosts != "" {
		c.cfg.CassandraConfig.Hosts = strings.Split(hosts, ",")
	}
	c.cfg.CassandraConfig.Keyspace = viper.GetString("cassandra-keyspace")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.GrpcPort = viper.GetInt("grpc-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.QueueType = config.QueueType(viper.GetString("queue-impl"))
	c.cfg.EncoderDecoderType = config.EncoderDecoderType(viper.GetString("encoder-decoder"))
	c.cfg.LogLevel = viper.GetString("log-level")
	c.cfg.AnalyticsFile = viper.GetString("analytics-file")
	c.cfg.DefinitionsFile = viper.GetString("definitions-file")
	c.cfg.AssetLockTimeout = viper.GetDuration("asset-lock-timeout")

	c.cfg.ClusterConfig.NodeName = viper.GetString("node-name")
	c.cfg.ClusterConfig.BindAddr = viper.GetString("bind-addr")
	if joins := viper.GetString("join-addrs"); joins != "" {
		c.cfg.ClusterConfig.StartJoinAddrs = strings.Split(joins, ",")
	}
	c.cfg.ClusterConfig.PartitionCount = viper.GetInt("partitions")

	c.cfg.EngineConfig = config.EngineConfig{
		Workers:                viper.GetInt("engine-workers"),
		BatchSize:              viper.GetInt("batch-size"),
		PollInterval:           viper.GetDuration("poll-interval"),
		VisibilityTimeout:      viper.GetDuration("visibility-timeout"),
		MaxDeliveries:          viper.GetInt("max-deliveries"),
		MonitorInitialInterval: viper.GetDuration("monitor-initial-interval"),
		MonitorMaxInterval:     viper.GetDuration("monitor-max-interval"),
		OperationTimeout:       viper.GetDuration("operation-timeout"),
		LockRetryCount:         viper.GetInt("lock-retry-count"),
		LockRetryInterval:      viper.GetDuration("lock-retry-interval"),
		CommitRetries:          viper.GetInt("commit-retries"),
	}
	c.cfg.SchedulerConfig = config.SchedulerConfig{
		Interval:                      viper.GetDuration("scheduler-interval"),
		DefaultMaxConcurrentWorkflows: viper.GetInt("max-concurrent-workflows"),
		ConflictRetries:               viper.GetInt("scheduler-conflict-retries"),
		StallTimeout:                  viper.GetDuration("stall-timeout"),
	}
	c.cfg.NotifierConfig = config.NotifierConfig{
		RedisChannel: viper.GetString("notify-channel"),
		LogFile:      viper.GetString("notify-log-file"),
		Capacity:     viper.GetInt("notify-capacity"),
	}
	return logger.Init(c.cfg.LogLevel, false)
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	var err error
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		return err
	}
	err = agent.Start()
	if err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "mediaflow",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
