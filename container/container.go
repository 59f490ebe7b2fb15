package container

import (
	"fmt"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/gocql/gocql"
	"github.com/mohitkumar/mediaflow/cache"
	"github.com/mohitkumar/mediaflow/cluster"
	"github.com/mohitkumar/mediaflow/config"
	"github.com/mohitkumar/mediaflow/operation"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/persistence/cassandra"
	"github.com/mohitkumar/mediaflow/persistence/memory"
	redisstore "github.com/mohitkumar/mediaflow/persistence/redis"
	"github.com/mohitkumar/mediaflow/persistence/sqlite"
)

const definitionCacheTTL = 5 * time.Minute

// DIContiner owns the storage backends selected by configuration.
type DIContiner struct {
	initialized bool
	definitions *cache.DefinitionCache
	executions  persistence.ExecutionStore
	assets      persistence.AssetStore
	queue       persistence.StageQueue
	registry    *operation.Registry
	ring        *cluster.Ring
	redisClient rd.UniversalClient
	sqliteDB    *sqlite.DB
	cqlSession  *gocql.Session
}

func (p *DIContiner) setInitialized() {
	p.initialized = true
}

func NewDiContainer(ring *cluster.Ring) *DIContiner {
	return &DIContiner{
		initialized: false,
		ring:        ring,
	}
}

// RedisClient returns the shared client, creating it on first use.
func (d *DIContiner) RedisClient(conf config.Config) rd.UniversalClient {
	if d.redisClient == nil {
		d.redisClient = redisstore.NewRedisClient(redisstore.Config{
			Addrs:     conf.RedisConfig.Addrs,
			Namespace: conf.RedisConfig.Namespace,
			Password:  conf.RedisConfig.Password,
			PoolSize:  conf.RedisConfig.PoolSize,
		})
	}
	return d.redisClient
}

// Init builds the stores. listener observes every committed execution change.
func (d *DIContiner) Init(conf config.Config, listener persistence.ChangeListener) error {
	defer d.setInitialized()

	var partitioner persistence.Partitioner = persistence.SinglePartition()
	if d.ring != nil {
		partitioner = d.ring
	}
	defaultMax := conf.SchedulerConfig.DefaultMaxConcurrentWorkflows

	var definitions persistence.DefinitionStore
	switch conf.StorageType {
	case config.STORAGE_TYPE_REDIS:
		client := d.RedisClient(conf)
		ns := conf.RedisConfig.Namespace
		definitions = redisstore.NewRedisDefinitionStore(client, ns, defaultMax)
		d.executions = redisstore.NewRedisExecutionStore(client, ns, listener)
		d.assets = redisstore.NewRedisAssetStore(client, ns)
	case config.STORAGE_TYPE_SQLITE:
		db, err := sqlite.Open(conf.SqliteConfig.Path)
		if err != nil {
			return err
		}
		d.sqliteDB = db
		definitions = sqlite.NewDefinitionStore(db, defaultMax)
		d.executions = sqlite.NewExecutionStore(db, listener)
		d.assets = sqlite.NewAssetStore(db)
	case config.STORAGE_TYPE_INMEM, "":
		definitions = memory.NewDefinitionStore(defaultMax)
		d.executions = memory.NewExecutionStore(listener)
		d.assets = memory.NewAssetStore()
	default:
		return fmt.Errorf("unknown storage type %q", conf.StorageType)
	}
	if len(conf.CassandraConfig.Hosts) > 0 {
		session, err := cassandra.NewSession(cassandra.Config{
			Hosts:    conf.CassandraConfig.Hosts,
			KeySpace: conf.CassandraConfig.Keyspace,
			Timeout:  5 * time.Second,
		})
		if err != nil {
			return err
		}
		d.cqlSession = session
		definitions = cassandra.NewCassandraDefinitionStore(session, conf.CassandraConfig.Keyspace, defaultMax)
	}
	d.definitions = cache.NewDefinitionCache(definitions, definitionCacheTTL)

	switch conf.QueueType {
	case config.QUEUE_TYPE_REDIS:
		d.queue = redisstore.NewRedisStageQueue(d.RedisClient(conf), conf.RedisConfig.Namespace, partitioner)
	case config.QUEUE_TYPE_INMEM, "":
		d.queue = memory.NewStageQueue(partitioner)
	default:
		return fmt.Errorf("unknown queue type %q", conf.QueueType)
	}
	d.registry = operation.NewRegistry(nil)
	return nil
}

func (d *DIContiner) checkInitialized() {
	if !d.initialized {
		panic("persistence not initalized")
	}
}

func (d *DIContiner) GetDefinitionStore() *cache.DefinitionCache {
	d.checkInitialized()
	return d.definitions
}

func (d *DIContiner) GetExecutionStore() persistence.ExecutionStore {
	d.checkInitialized()
	return d.executions
}

func (d *DIContiner) GetAssetStore() persistence.AssetStore {
	d.checkInitialized()
	return d.assets
}

func (d *DIContiner) GetStageQueue() persistence.StageQueue {
	d.checkInitialized()
	return d.queue
}

func (d *DIContiner) GetRegistry() *operation.Registry {
	d.checkInitialized()
	return d.registry
}

func (d *DIContiner) GetRing() *cluster.Ring {
	return d.ring
}

func (d *DIContiner) Close() error {
	if d.cqlSession != nil {
		d.cqlSession.Close()
	}
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			return err
		}
	}
	return d.sqliteDB.Close()
}
