package cassandra

import "time"

type Config struct {
	Hosts    []string
	KeySpace string
	Timeout  time.Duration
}
