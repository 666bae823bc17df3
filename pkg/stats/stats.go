package stats

import (
	"fmt"
	"strconv"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// noKind is the hash used for calls whose kind could not be decoded.
const noKind = "_"

// Collector counts RPC outcomes per call kind in a Redis hash. It
// implements rpc.Recorder.
type Collector struct {
	redisClient *redis.Client
}

func NewCollector(redisClient *redis.Client) *Collector {
	return &Collector{
		redisClient: redisClient,
	}
}

func key(kind string) string {
	if kind == "" {
		kind = noKind
	}
	return fmt.Sprintf("stats:rpc:%s", kind)
}

// Record increments the outcome counter of kind. Failures are logged and
// otherwise ignored; counting must never fail a call.
func (c *Collector) Record(kind, outcome string) {
	if _, err := c.redisClient.HIncrBy(key(kind), outcome, 1).Result(); err != nil {
		log.WithFields(log.Fields{"kind": kind, "outcome": outcome}).
			Error("Failed to update stats: ", err)
	}
}

// Snapshot returns the outcome counters of kind.
func (c *Collector) Snapshot(kind string) (map[string]int64, error) {
	fields, err := c.redisClient.HGetAll(key(kind)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read stats")
	}

	counts := make(map[string]int64, len(fields))
	for outcome, v := range fields {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid counter %s", outcome)
		}
		counts[outcome] = n
	}
	return counts, nil
}
