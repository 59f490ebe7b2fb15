package redis

import "time"

const DEFAULT_NAMESPACE = "mediaflow"

// Config describes the redis deployment holding every store of one namespace.
type Config struct {
	Addrs       []string
	Namespace   string
	Password    string
	PoolSize    int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if len(c.Addrs) == 0 {
		c.Addrs = []string{"localhost:6379"}
	}
	if c.Namespace == "" {
		c.Namespace = DEFAULT_NAMESPACE
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	return c
}
