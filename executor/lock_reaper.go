package executor

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
	"go.uber.org/zap"
)

var _ Executor = new(LockReaper)

// LockReaper releases asset locks held longer than timeout, left behind by crashed writers.
type LockReaper struct {
	assets   persistence.AssetStore
	timeout  time.Duration
	interval time.Duration
	wg       *sync.WaitGroup
	stop     chan struct{}
	tw       *util.TickWorker
}

func NewLockReaper(assets persistence.AssetStore, timeout time.Duration, interval time.Duration, wg *sync.WaitGroup) *LockReaper {
	return &LockReaper{
		assets:   assets,
		timeout:  timeout,
		interval: interval,
		wg:       wg,
		stop:     make(chan struct{}),
	}
}

func (lr *LockReaper) Name() string {
	return "asset-lock-reaper"
}

func (lr *LockReaper) Start() error {
	lr.tw = util.NewTickWorker("lock-reaper", lr.interval, lr.stop, func() {
		if _, err := lr.RunOnce(context.Background(), time.Now().UTC()); err != nil {
			logger.Error("error reaping asset locks", zap.Error(err))
		}
	}, lr.wg)
	lr.tw.Start()
	return nil
}

func (lr *LockReaper) Stop() error {
	if lr.tw != nil && lr.tw.IsRunning() {
		lr.tw.Stop()
	}
	return nil
}

// RunOnce force-unlocks assets locked before now minus the timeout.
func (lr *LockReaper) RunOnce(ctx context.Context, now time.Time) (int, error) {
	stale, err := lr.assets.ListLocked(ctx, now.Add(-lr.timeout))
	if err != nil {
		return 0, err
	}
	released := 0
	for _, asset := range stale {
		ok, err := lr.assets.Unlock(ctx, asset.AssetId, asset.LockedBy)
		if err != nil {
			// relocked or released since listing
			if persistence.IsLockContention(err) {
				continue
			}
			return released, err
		}
		if ok {
			released++
			logger.Warn("released stale asset lock", zap.String("asset", asset.AssetId), zap.String("lockedBy", asset.LockedBy),
				zap.Time("lockedAt", asset.LockedAt))
		}
	}
	return released, nil
}
