package util

import (
	"sync"
	"time"

	"github.com/mohitkumar/mediaflow/logger"
	"go.uber.org/zap"
)

type TickWorker struct {
	stop         chan struct{}
	trigger      chan struct{}
	tickInterval time.Duration
	wg           *sync.WaitGroup
	name         string
	fn           func()
	mu           sync.Mutex
	running      bool
}

func NewTickWorker(name string, interval time.Duration, stop chan struct{}, fn func(), wg *sync.WaitGroup) *TickWorker {
	return &TickWorker{
		stop:         stop,
		trigger:      make(chan struct{}, 1),
		tickInterval: interval,
		wg:           wg,
		fn:           fn,
		name:         name,
	}
}

func (tw *TickWorker) Start() {
	ticker := time.NewTicker(tw.tickInterval)
	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		for {
			select {
			case <-ticker.C:
				tw.fn()
			case <-tw.trigger:
				tw.fn()
			case <-tw.stop:
				logger.Info("stopping tick worker", zap.String("worker", tw.name))
				ticker.Stop()
				tw.setRunning(false)
				return
			}
		}
	}()
	tw.setRunning(true)
	logger.Info("tick worker started", zap.String("worker", tw.name), zap.Duration("interval", tw.tickInterval))
}

// Trigger runs fn ahead of the next tick. Triggers arriving while one is pending are coalesced.
func (tw *TickWorker) Trigger() {
	select {
	case tw.trigger <- struct{}{}:
	default:
	}
}

func (tw *TickWorker) Stop() {
	tw.stop <- struct{}{}
}

func (tw *TickWorker) IsRunning() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.running
}

func (tw *TickWorker) setRunning(running bool) {
	tw.mu.Lock()
	tw.running = running
	tw.mu.Unlock()
}
