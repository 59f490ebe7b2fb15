package cassandra

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/persistence/storetest"
	"github.com/stretchr/testify/require"
)

const testCassandraHost = "127.0.0.1:9042"

func requireCassandra(t *testing.T) {
	conn, err := net.DialTimeout("tcp", testCassandraHost, 200*time.Millisecond)
	if err != nil {
		t.Skipf("cassandra not reachable at %s: %v", testCassandraHost, err)
	}
	_ = conn.Close()
}

func createKeyspace(t *testing.T) string {
	keyspace := "mediaflow_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	cluster := gocql.NewCluster(testCassandraHost)
	cluster.Timeout = 10 * time.Second
	session, err := cluster.CreateSession()
	require.NoError(t, err)
	defer session.Close()
	require.NoError(t, session.Query(`CREATE KEYSPACE `+keyspace+
		` WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`).Exec())
	t.Cleanup(func() {
		cleanup, err := cluster.CreateSession()
		if err != nil {
			return
		}
		defer cleanup.Close()
		_ = cleanup.Query(`DROP KEYSPACE IF EXISTS ` + keyspace).Exec()
	})
	return keyspace
}

func TestCassandraDefinitionStore(t *testing.T) {
	requireCassandra(t)
	storetest.RunDefinitions(t, func(t *testing.T) persistence.DefinitionStore {
		keyspace := createKeyspace(t)
		session, err := NewSession(Config{Hosts: []string{testCassandraHost}, KeySpace: keyspace, Timeout: 10 * time.Second})
		require.NoError(t, err)
		t.Cleanup(session.Close)
		return NewCassandraDefinitionStore(session, keyspace, 10)
	})
}
