package redis

import (
	"context"
	"strconv"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/google/uuid"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
	"go.uber.org/zap"
)

const STAGE_QUEUE string = "STAGE_QUEUE"
const STAGE_INFLIGHT string = "STAGE_INFLIGHT"
const STAGE_DEAD_LETTER string = "STAGE_DLQ"

// pollScript moves ready messages into the in-flight set with their visibility deadline as score.
// KEYS: ready set, in-flight set. ARGV: now (ms), batch size, deadline (ms).
var pollScript = rd.NewScript(`
local msgs = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(msgs) do
	redis.call('ZREM', KEYS[1], m)
	redis.call('ZADD', KEYS[2], ARGV[3], m)
end
return msgs
`)

// expiredScript removes and returns in-flight messages whose deadline passed.
// KEYS: in-flight set. ARGV: now (ms).
var expiredScript = rd.NewScript(`
local msgs = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, m in ipairs(msgs) do
	redis.call('ZREM', KEYS[1], m)
end
return msgs
`)

type redisStageQueue struct {
	*baseDao
	partitioner persistence.Partitioner
	encDec      util.EncoderDecoder[model.StageMessage]
}

var _ persistence.StageQueue = new(redisStageQueue)

func NewRedisStageQueue(client rd.UniversalClient, namespace string, partitioner persistence.Partitioner) *redisStageQueue {
	if partitioner == nil {
		partitioner = persistence.SinglePartition()
	}
	return &redisStageQueue{
		baseDao:     newBaseDao(client, namespace),
		partitioner: partitioner,
		encDec:      util.NewJsonEncoderDecoder[model.StageMessage](),
	}
}

func (rq *redisStageQueue) readyKey(partition int) string {
	return rq.getNamespaceKey(STAGE_QUEUE, strconv.Itoa(partition))
}

func (rq *redisStageQueue) inflightKey(partition int) string {
	return rq.getNamespaceKey(STAGE_INFLIGHT, strconv.Itoa(partition))
}

func (rq *redisStageQueue) Push(ctx context.Context, msg *model.StageMessage) error {
	return rq.PushWithDelay(ctx, msg, 0)
}

func (rq *redisStageQueue) PushWithDelay(ctx context.Context, msg *model.StageMessage, delay time.Duration) error {
	if msg.MessageId == "" {
		msg.MessageId = uuid.NewString()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	data, err := rq.encDec.Encode(*msg)
	if err != nil {
		return err
	}
	queueName := rq.readyKey(rq.partitioner.GetPartition(msg.ExecutionId))
	member := rd.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: data,
	}
	if err := rq.redisClient.ZAdd(ctx, queueName, member).Err(); err != nil {
		logger.Error("error while push to stage queue", zap.String("queue", queueName), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisStageQueue) decodeAll(partition int, payloads []string, deadline time.Time) []*model.Delivery {
	res := make([]*model.Delivery, 0, len(payloads))
	for _, p := range payloads {
		msg, err := rq.encDec.DecodeString(p)
		if err != nil {
			logger.Error("can not decode stage message, dropping", zap.String("payload", p), zap.Error(err))
			continue
		}
		res = append(res, &model.Delivery{Message: msg, Partition: partition, Payload: p, Deadline: deadline})
	}
	return res
}

func (rq *redisStageQueue) Poll(ctx context.Context, partition int, batchSize int, visibility time.Duration) ([]*model.Delivery, error) {
	now := time.Now()
	deadline := now.Add(visibility)
	keys := []string{rq.readyKey(partition), rq.inflightKey(partition)}
	res, err := pollScript.Run(ctx, rq.redisClient, keys, now.UnixMilli(), batchSize, deadline.UnixMilli()).StringSlice()
	if err != nil {
		logger.Error("error while polling stage queue", zap.Int("partition", partition), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rq.decodeAll(partition, res, deadline), nil
}

func (rq *redisStageQueue) Ack(ctx context.Context, delivery *model.Delivery) error {
	if err := rq.redisClient.ZRem(ctx, rq.inflightKey(delivery.Partition), delivery.Payload).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisStageQueue) Expired(ctx context.Context, partition int, now time.Time) ([]*model.Delivery, error) {
	keys := []string{rq.inflightKey(partition)}
	res, err := expiredScript.Run(ctx, rq.redisClient, keys, now.UnixMilli()).StringSlice()
	if err != nil {
		logger.Error("error while reading expired stage messages", zap.Int("partition", partition), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rq.decodeAll(partition, res, now), nil
}

func (rq *redisStageQueue) DeadLetter(ctx context.Context, msg *model.StageMessage) error {
	data, err := rq.encDec.Encode(*msg)
	if err != nil {
		return err
	}
	if err := rq.redisClient.RPush(ctx, rq.getNamespaceKey(STAGE_DEAD_LETTER), data).Err(); err != nil {
		logger.Error("error while pushing dead letter", zap.String("execution", msg.ExecutionId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisStageQueue) ListDeadLetters(ctx context.Context) ([]*model.StageMessage, error) {
	vals, err := rq.redisClient.LRange(ctx, rq.getNamespaceKey(STAGE_DEAD_LETTER), 0, -1).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	res := make([]*model.StageMessage, 0, len(vals))
	for _, v := range vals {
		msg, err := rq.encDec.DecodeString(v)
		if err != nil {
			return nil, err
		}
		res = append(res, msg)
	}
	return res, nil
}
