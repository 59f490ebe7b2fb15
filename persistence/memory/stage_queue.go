package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
)

type queueEntry struct {
	payload string
	at      time.Time
	seq     uint64
}

type stageQueue struct {
	mu          sync.Mutex
	seq         uint64
	ready       map[int][]queueEntry
	inflight    map[int][]queueEntry
	deadLetters []string
	partitioner persistence.Partitioner
	encDec      util.EncoderDecoder[model.StageMessage]
}

var _ persistence.StageQueue = new(stageQueue)

func NewStageQueue(partitioner persistence.Partitioner) *stageQueue {
	if partitioner == nil {
		partitioner = persistence.SinglePartition()
	}
	return &stageQueue{
		ready:       make(map[int][]queueEntry),
		inflight:    make(map[int][]queueEntry),
		partitioner: partitioner,
		encDec:      util.NewJsonEncoderDecoder[model.StageMessage](),
	}
}

func (q *stageQueue) Push(ctx context.Context, msg *model.StageMessage) error {
	return q.PushWithDelay(ctx, msg, 0)
}

func (q *stageQueue) PushWithDelay(ctx context.Context, msg *model.StageMessage, delay time.Duration) error {
	if msg.MessageId == "" {
		msg.MessageId = uuid.NewString()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	data, err := q.encDec.Encode(*msg)
	if err != nil {
		return err
	}
	partition := q.partitioner.GetPartition(msg.ExecutionId)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.ready[partition] = append(q.ready[partition], queueEntry{payload: string(data), at: time.Now().Add(delay), seq: q.seq})
	return nil
}

func (q *stageQueue) Poll(ctx context.Context, partition int, batchSize int, visibility time.Duration) ([]*model.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	entries := q.ready[partition]
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].at.Equal(entries[j].at) {
			return entries[i].seq < entries[j].seq
		}
		return entries[i].at.Before(entries[j].at)
	})
	res := make([]*model.Delivery, 0)
	remaining := entries[:0:0]
	for _, e := range entries {
		if len(res) < batchSize && !e.at.After(now) {
			msg, err := q.encDec.DecodeString(e.payload)
			if err != nil {
				continue
			}
			deadline := now.Add(visibility)
			q.inflight[partition] = append(q.inflight[partition], queueEntry{payload: e.payload, at: deadline, seq: e.seq})
			res = append(res, &model.Delivery{Message: msg, Partition: partition, Payload: e.payload, Deadline: deadline})
			continue
		}
		remaining = append(remaining, e)
	}
	q.ready[partition] = remaining
	return res, nil
}

func (q *stageQueue) Ack(ctx context.Context, delivery *model.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.inflight[delivery.Partition]
	for i, e := range entries {
		if e.payload == delivery.Payload {
			q.inflight[delivery.Partition] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *stageQueue) Expired(ctx context.Context, partition int, now time.Time) ([]*model.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	res := make([]*model.Delivery, 0)
	remaining := make([]queueEntry, 0, len(q.inflight[partition]))
	for _, e := range q.inflight[partition] {
		if e.at.Before(now) {
			msg, err := q.encDec.DecodeString(e.payload)
			if err == nil {
				res = append(res, &model.Delivery{Message: msg, Partition: partition, Payload: e.payload, Deadline: e.at})
			}
			continue
		}
		remaining = append(remaining, e)
	}
	q.inflight[partition] = remaining
	return res, nil
}

func (q *stageQueue) DeadLetter(ctx context.Context, msg *model.StageMessage) error {
	data, err := q.encDec.Encode(*msg)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deadLetters = append(q.deadLetters, string(data))
	return nil
}

func (q *stageQueue) ListDeadLetters(ctx context.Context) ([]*model.StageMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	res := make([]*model.StageMessage, 0, len(q.deadLetters))
	for _, d := range q.deadLetters {
		msg, err := q.encDec.DecodeString(d)
		if err != nil {
			return nil, err
		}
		res = append(res, msg)
	}
	return res, nil
}
