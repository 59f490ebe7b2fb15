package redis

import (
	"fmt"
	"strings"

	rd "github.com/go-redis/redis/v9"
)

type baseDao struct {
	redisClient rd.UniversalClient
	namespace   string
}

func NewRedisClient(conf Config) rd.UniversalClient {
	conf = conf.withDefaults()
	return rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:       conf.Addrs,
		Password:    conf.Password,
		PoolSize:    conf.PoolSize,
		DialTimeout: conf.DialTimeout,
		ReadTimeout: conf.ReadTimeout,
	})
}

func newBaseDao(client rd.UniversalClient, namespace string) *baseDao {
	return &baseDao{
		redisClient: client,
		namespace:   namespace,
	}
}

func (bs *baseDao) getNamespaceKey(args ...string) string {
	return fmt.Sprintf("%s:%s", bs.namespace, strings.Join(args, ":"))
}
