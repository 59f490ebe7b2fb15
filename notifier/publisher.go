package notifier

import (
	"context"
	"os"
	"sync"

	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/util"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const DEFAULT_CHANNEL = "execution-events"

type RedisPublisher struct {
	client  rd.UniversalClient
	channel string
	encDec  util.EncoderDecoder[model.ChangeEvent]
}

func NewRedisPublisher(client rd.UniversalClient, namespace string, channel string) *RedisPublisher {
	if channel == "" {
		channel = DEFAULT_CHANNEL
	}
	return &RedisPublisher{
		client:  client,
		channel: namespace + ":" + channel,
		encDec:  util.NewJsonEncoderDecoder[model.ChangeEvent](),
	}
}

func (p *RedisPublisher) Name() string {
	return "redis"
}

func (p *RedisPublisher) Channel() string {
	return p.channel
}

func (p *RedisPublisher) Publish(ctx context.Context, event *model.ChangeEvent) error {
	data, err := p.encDec.Encode(*event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// LogPublisher appends events as json lines to a file.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(fileName string) (*LogPublisher, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(logFile), zapcore.InfoLevel)
	return &LogPublisher{logger: zap.New(core)}, nil
}

func (p *LogPublisher) Name() string {
	return "log"
}

func (p *LogPublisher) Publish(ctx context.Context, event *model.ChangeEvent) error {
	p.logger.Info("execution status changed",
		zap.String("executionId", event.ExecutionId),
		zap.String("assetId", event.AssetId),
		zap.String("workflow", event.Workflow),
		zap.String("oldStatus", string(event.OldStatus)),
		zap.String("newStatus", string(event.NewStatus)),
		zap.Int64("version", event.Version),
		zap.Time("timestamp", event.Timestamp),
	)
	return p.logger.Sync()
}

type MemoryPublisher struct {
	mu     sync.Mutex
	events []*model.ChangeEvent
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Name() string {
	return "memory"
}

func (p *MemoryPublisher) Publish(ctx context.Context, event *model.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *MemoryPublisher) Events() []*model.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	res := make([]*model.ChangeEvent, len(p.events))
	copy(res, p.events)
	return res
}
