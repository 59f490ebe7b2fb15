package cassandra

import (
	"github.com/gocql/gocql"
	"github.com/mohitkumar/mediaflow/logger"
	"go.uber.org/zap"
)

const DEFINITION_TABLE = "definitions"
const SYSTEM_CONFIG_TABLE = "system_config"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + DEFINITION_TABLE + ` (kind text, name text, definition text, PRIMARY KEY (kind, name))`,
	`CREATE TABLE IF NOT EXISTS ` + SYSTEM_CONFIG_TABLE + ` (name text PRIMARY KEY, max_concurrent_workflows int)`,
}

type baseDao struct {
	session  *gocql.Session
	keyspace string
}

// NewSession connects to the keyspace and creates the tables it needs.
// The keyspace itself must already exist.
func NewSession(conf Config) (*gocql.Session, error) {
	cluster := gocql.NewCluster(conf.Hosts...)
	cluster.Keyspace = conf.KeySpace
	cluster.Consistency = gocql.Quorum
	if conf.Timeout > 0 {
		cluster.Timeout = conf.Timeout
		cluster.ConnectTimeout = conf.Timeout
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if err := session.Query(stmt).Exec(); err != nil {
			session.Close()
			return nil, err
		}
	}
	logger.Info("cassandra session created", zap.Strings("hosts", conf.Hosts), zap.String("keyspace", conf.KeySpace))
	return session, nil
}

func newBaseDao(session *gocql.Session, keyspace string) *baseDao {
	return &baseDao{
		session:  session,
		keyspace: keyspace,
	}
}
