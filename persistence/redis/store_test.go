package redis

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/mediaflow/persistence/storetest"
	"github.com/stretchr/testify/require"
)

const testRedisAddr = "localhost:6379"

func requireRedis(t *testing.T) {
	conn, err := net.DialTimeout("tcp", testRedisAddr, 200*time.Millisecond)
	if err != nil {
		t.Skipf("redis not reachable at %s: %v", testRedisAddr, err)
	}
	_ = conn.Close()
}

func TestRedisStores(t *testing.T) {
	requireRedis(t)
	storetest.Run(t, func(t *testing.T) storetest.Stores {
		client := NewRedisClient(Config{Addrs: []string{testRedisAddr}})
		ns := "mediaflow-test-" + uuid.NewString()
		t.Cleanup(func() {
			ctx := context.Background()
			keys, _ := client.Keys(ctx, ns+":*").Result()
			if len(keys) > 0 {
				client.Del(ctx, keys...)
			}
			_ = client.Close()
		})
		return storetest.Stores{
			Definitions: NewRedisDefinitionStore(client, ns, 10),
			Executions:  NewRedisExecutionStore(client, ns, nil),
			Assets:      NewRedisAssetStore(client, ns),
			Queue:       NewRedisStageQueue(client, ns, nil),
		}
	})
}

func TestConfigDefaults(t *testing.T) {
	conf := Config{}.withDefaults()
	require.Equal(t, []string{"localhost:6379"}, conf.Addrs)
	require.Equal(t, DEFAULT_NAMESPACE, conf.Namespace)
	require.Equal(t, 5*time.Second, conf.DialTimeout)
	require.Equal(t, 3*time.Second, conf.ReadTimeout)

	conf = Config{Addrs: []string{"redis:6380"}, Namespace: "media", ReadTimeout: time.Second}.withDefaults()
	require.Equal(t, []string{"redis:6380"}, conf.Addrs)
	require.Equal(t, "media", conf.Namespace)
	require.Equal(t, time.Second, conf.ReadTimeout)
}
