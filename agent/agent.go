package agent

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mohitkumar/mediaflow/analytics"
	"github.com/mohitkumar/mediaflow/cluster"
	"github.com/mohitkumar/mediaflow/config"
	"github.com/mohitkumar/mediaflow/container"
	"github.com/mohitkumar/mediaflow/engine"
	"github.com/mohitkumar/mediaflow/executor"
	"github.com/mohitkumar/mediaflow/logger"
	"github.com/mohitkumar/mediaflow/metadata"
	"github.com/mohitkumar/mediaflow/metrics"
	"github.com/mohitkumar/mediaflow/notifier"
	"github.com/mohitkumar/mediaflow/rest"
	"github.com/mohitkumar/mediaflow/rpc"
	"github.com/mohitkumar/mediaflow/scheduler"
	"github.com/mohitkumar/mediaflow/service"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

type Agent struct {
	Config                   config.Config
	ring                     *cluster.Ring
	membership               *cluster.Membership
	diContainer              *container.DIContiner
	notifier                 *notifier.Notifier
	metadataService          *metadata.Service
	scheduler                *scheduler.Scheduler
	engine                   *engine.Engine
	executors                *executor.Executors
	workflowExecutionService *service.WorkflowExecutionService
	httpServer               *rest.Server
	grpcServer               *grpc.Server
	shutdown                 bool
	shutdowns                chan struct{}
	shutdownLock             sync.Mutex
	wg                       sync.WaitGroup
}

func New(config config.Config) (*Agent, error) {
	a := &Agent{
		Config:    config,
		shutdowns: make(chan struct{}),
	}
	setup := []func() error{
		a.setupObservability,
		a.setupRing,
		a.setupNotifier,
		a.setupContainer,
		a.setupMetadataService,
		a.setupScheduler,
		a.setupEngine,
		a.setupWorkflowExecutionService,
		a.setupHttpServer,
		a.setupGrpcServer,
		a.setupMembership,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) httpAddr() string {
	return fmt.Sprintf(":%d", a.Config.HttpPort)
}

func (a *Agent) setupObservability() error {
	collector := analytics.DataCollectorConfig{CollectorType: analytics.NOOP_DATA_COLLECTOR}
	if a.Config.AnalyticsFile != "" {
		collector = analytics.DataCollectorConfig{
			FileName:      a.Config.AnalyticsFile,
			CollectorType: analytics.LOG_FILE_DATA_COLLECTOR,
		}
	}
	if err := analytics.InitDataCollector(collector); err != nil {
		return err
	}
	return metrics.Register()
}

func (a *Agent) setupRing() error {
	a.ring = cluster.NewRing(cluster.RingConfig{
		PartitionCount: a.Config.ClusterConfig.PartitionCount,
		LocalName:      a.Config.ClusterConfig.NodeName,
		LocalAddr:      a.httpAddr(),
	})
	a.diContainer = container.NewDiContainer(a.ring)
	return nil
}

func (a *Agent) setupNotifier() error {
	publishers := make([]notifier.Publisher, 0, 2)
	if a.Config.StorageType == config.STORAGE_TYPE_REDIS || a.Config.QueueType == config.QUEUE_TYPE_REDIS {
		client := a.diContainer.RedisClient(a.Config)
		publishers = append(publishers, notifier.NewRedisPublisher(client, a.Config.RedisConfig.Namespace, a.Config.NotifierConfig.RedisChannel))
	}
	if a.Config.NotifierConfig.LogFile != "" {
		p, err := notifier.NewLogPublisher(a.Config.NotifierConfig.LogFile)
		if err != nil {
			return err
		}
		publishers = append(publishers, p)
	}
	a.notifier = notifier.NewNotifier(&a.wg, a.Config.NotifierConfig.Capacity, publishers...)
	return a.notifier.Start()
}

func (a *Agent) setupContainer() error {
	return a.diContainer.Init(a.Config, a.notifier)
}

func (a *Agent) setupMetadataService() error {
	a.metadataService = metadata.NewMetadataService(a.diContainer.GetDefinitionStore(), a.diContainer.GetRegistry())
	if a.Config.DefinitionsFile == "" {
		return nil
	}
	defs, err := metadata.LoadDefinitions(a.Config.DefinitionsFile)
	if err != nil {
		return err
	}
	return a.metadataService.Register(context.Background(), defs)
}

func (a *Agent) setupScheduler() error {
	a.scheduler = scheduler.NewScheduler(a.diContainer.GetDefinitionStore(), a.diContainer.GetExecutionStore(),
		a.diContainer.GetStageQueue(), a.Config.SchedulerConfig, &a.wg)
	return a.scheduler.Start()
}

func (a *Agent) setupEngine() error {
	if err := a.Config.EngineConfig.Validate(); err != nil {
		return err
	}
	d := a.diContainer
	a.engine = engine.NewEngine(d.GetDefinitionStore(), d.GetExecutionStore(), d.GetAssetStore(), d.GetStageQueue(),
		d.GetRegistry(), a.scheduler, a.Config.EngineConfig)

	execs := []executor.Executor{
		executor.NewStageExecutor(d.GetStageQueue(), a.engine, a.ring, a.Config.EngineConfig, &a.wg),
		executor.NewExpiryExecutor(d.GetStageQueue(), a.engine, a.ring, a.Config.EngineConfig.PollInterval, &a.wg),
	}
	if timeout := a.Config.AssetLockTimeout; timeout > 0 {
		interval := timeout / 2
		if interval < time.Second {
			interval = time.Second
		}
		execs = append(execs, executor.NewLockReaper(d.GetAssetStore(), timeout, interval, &a.wg))
	}
	a.executors = executor.NewExecutors(execs...)
	return a.executors.StartAll()
}

func (a *Agent) setupWorkflowExecutionService() error {
	d := a.diContainer
	a.workflowExecutionService = service.NewWorkflowExecutionService(d.GetDefinitionStore(), d.GetExecutionStore(),
		d.GetAssetStore(), d.GetStageQueue(), a.scheduler)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.metadataService, a.workflowExecutionService)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) setupGrpcServer() error {
	if a.Config.GrpcPort == 0 {
		return nil
	}
	var err error
	a.grpcServer, err = rpc.NewGrpcServer(a.workflowExecutionService)
	return err
}

func (a *Agent) setupMembership() error {
	conf := a.Config.ClusterConfig
	if conf.BindAddr == "" {
		return nil
	}
	tags := map[string]string{"http_addr": a.httpAddr()}
	for k, v := range conf.Tags {
		tags[k] = v
	}
	var err error
	a.membership, err = cluster.NewMembership(a.ring, cluster.Config{
		NodeName:       conf.NodeName,
		BindAddr:       conf.BindAddr,
		Tags:           tags,
		StartJoinAddrs: conf.StartJoinAddrs,
	})
	return err
}

func (a *Agent) Start() error {
	go func() {
		if err := a.httpServer.Start(); err != nil {
			logger.Error("http server failed", zap.Error(err))
			_ = a.Shutdown()
		}
	}()
	if a.grpcServer != nil {
		logger.Info("starting grpc server on", zap.Int("port", a.Config.GrpcPort))
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.Config.GrpcPort))
		if err != nil {
			return err
		}
		go func() {
			if err := a.grpcServer.Serve(lis); err != nil {
				logger.Error("grpc server failed", zap.Error(err))
				_ = a.Shutdown()
			}
		}()
	}
	// admit anything left queued by a previous run
	a.scheduler.Trigger()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true
	close(a.shutdowns)

	shutdown := []func() error{
		func() error {
			if a.membership == nil {
				return nil
			}
			return a.membership.Leave()
		},
		a.httpServer.Stop,
		func() error {
			if a.grpcServer == nil {
				return nil
			}
			logger.Info("stopping grpc server")
			a.grpcServer.GracefulStop()
			return nil
		},
		a.executors.StopAll,
		a.scheduler.Stop,
		a.notifier.Stop,
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	metrics.Unregister()
	return a.diContainer.Close()
}
