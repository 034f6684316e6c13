package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/modeld/internal/config"
	"github.com/banshee-data/modeld/internal/modeld"
	"github.com/banshee-data/modeld/internal/modeld/debug"
	"github.com/banshee-data/modeld/internal/modeld/engine"
	"github.com/banshee-data/modeld/internal/modeld/livestate"
	"github.com/banshee-data/modeld/internal/modeld/outputs"
	"github.com/banshee-data/modeld/internal/modeld/params"
	"github.com/banshee-data/modeld/internal/modeld/publish"
	"github.com/banshee-data/modeld/internal/modeld/store"
	"github.com/banshee-data/modeld/internal/modeld/vsync"
	"github.com/banshee-data/modeld/internal/monitoring"
	"github.com/banshee-data/modeld/internal/serialmux"
	"github.com/banshee-data/modeld/internal/vision"
)

// loadConfig layers the config file, environment, demo settings and
// command-line flags, in increasing precedence.
func loadConfig(opts *options) (*config.ModelConfig, error) {
	cfg := config.EmptyModelConfig()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.LoadModelConfig(opts.ConfigPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(opts.EnvFile); err != nil {
		return nil, err
	}
	if opts.Demo {
		cfg.ApplyDemo()
	}

	if cfg.Log == nil {
		cfg.Log = &config.LogSection{}
	}
	setString := func(dst **string, v string) {
		if v != "" {
			*dst = &v
		}
	}
	setString(&cfg.Log.Level, opts.LogLevel)
	setString(&cfg.Log.Path, opts.LogFile)
	setString(&cfg.Listen, opts.Listen)
	setString(&cfg.GRPCListen, opts.GRPCListen)
	setString(&cfg.DBPath, opts.DBPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// run builds every collaborator from cfg and blocks in the model cycle
// until a signal arrives or a cycle fails.
func run(ctx context.Context, cfg *config.ModelConfig, demo bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := monitoring.Init(cfg.LogConfig()); err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer monitoring.Sync()
	log := monitoring.L()
	metrics := monitoring.NewMetrics()
	flags := cfg.Flags()

	meta := outputs.DefaultMetadata()
	if path := cfg.GetMetadataPath(); path != "" {
		var err error
		if meta, err = outputs.LoadMetadata(path); err != nil {
			return fmt.Errorf("failed to load model metadata: %w", err)
		}
	}
	backend, err := engine.New(cfg.GetEngineBackend(), cfg.GetReplayPath(), flags, meta.OutputSize)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	state, err := modeld.NewState(flags, backend, meta, outputs.DefaultParser{})
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to open cycle log: %w", err)
	}
	defer db.Close()
	cycleLog := store.NewCycleLog(db, cfg.GetCycleLogBacklog(), metrics, log)
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := db.StartRun(ctx, cycleLog.RunID(), time.Now(), string(cfgJSON)); err != nil {
		return err
	}
	log.Infow("run started", "run_id", cycleLog.RunID(), "db", db.Path(), "backend", cfg.GetEngineBackend(), "demo", demo)

	// Side channels run until the cycle loop returns, then drain.
	sideCtx, cancelSide := context.WithCancel(ctx)
	defer cancelSide()
	var wg sync.WaitGroup
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(sideCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("routine failed", "routine", name, "error", err)
			}
			log.Debugw("routine terminated", "routine", name)
		}()
	}

	goRun("cycle log", cycleLog.Run)

	bus := publish.NewBus()
	defer bus.Close()
	if dir := cfg.GetRecorderDir(); dir != "" {
		rec, err := publish.NewRecorder(dir)
		if err != nil {
			return fmt.Errorf("failed to create recorder: %w", err)
		}
		log.Infow("recording published messages", "dir", dir, "recorder_run_id", rec.RunID())
		goRun("recorder", func(ctx context.Context) error { return rec.Run(ctx, bus) })
	}

	mux := http.NewServeMux()
	routes := &debug.Routes{DB: db, Metrics: metrics, RunID: cycleLog.RunID(), Log: log}
	if err := routes.Attach(mux); err != nil {
		return fmt.Errorf("failed to attach debug routes: %w", err)
	}

	// An empty port yields a disabled mux; the feed then idles.
	hub := livestate.NewHub()
	radarOpts := cfg.GetRadarSerial()
	radarMux, err := serialmux.Open(cfg.GetRadarSerialPort(), radarOpts, serialmux.OpenSerial)
	if err != nil {
		return fmt.Errorf("failed to open radar port: %w", err)
	}
	defer radarMux.Close()
	if err := radarMux.Initialize(radarOpts.InitCommands...); err != nil {
		return fmt.Errorf("failed to initialize radar: %w", err)
	}
	radarMux.AttachAdminRoutes(mux)
	goRun("radar monitor", radarMux.Monitor)
	feed := &livestate.RadarFeed{Mux: radarMux, Hub: hub, Log: log}
	goRun("radar feed", feed.Run)
	if demo {
		drive := &livestate.SyntheticDrive{Hub: hub}
		goRun("synthetic drive", drive.Run)
	}

	goRun("debug http", func(ctx context.Context) error {
		return debug.ListenAndServe(ctx, cfg.GetListen(), mux, log)
	})
	health := debug.NewHealth(log)
	if addr := cfg.GetGRPCListen(); addr != "" {
		goRun("grpc health", func(ctx context.Context) error { return health.ListenAndServe(ctx, addr) })
	}

	err = cycle(ctx, cfg, demo, state, hub, bus, metrics, cycleLog, health, log)
	health.SetServing(false)
	cancelSide()
	wg.Wait()
	log.Infow("run finished", "run_id", cycleLog.RunID(), "cycle_log_dropped", cycleLog.Dropped(), "bus_dropped", bus.Dropped())
	return err
}

// cycle waits for vehicle params and camera streams, then runs the daemon.
func cycle(ctx context.Context, cfg *config.ModelConfig, demo bool, state *modeld.State, hub *livestate.Hub,
	bus *publish.Bus, metrics *monitoring.Metrics, cycleLog *store.CycleLog, health *debug.Health, log *zap.SugaredLogger,
) error {
	vehicle := params.Demo()
	if !demo {
		ps := &params.Store{Dir: cfg.GetParamsDir(), Log: log}
		var err error
		if vehicle, err = ps.LoadVehicleParams(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to load vehicle params: %w", err)
		}
	}
	log.Infow("loaded vehicle params", "car", vehicle.CarName, "steer_actuator_delay", vehicle.SteerActuatorDelay)

	cameras := vision.NewSynthetic(vision.SyntheticConfig{
		DropProbability: cfg.GetCameraDropProbability(),
		Seed:            time.Now().UnixNano(),
	}, nil)
	barrier := &vsync.Barrier{Service: cameras, PollInterval: cfg.GetStreamPollInterval(), Log: log}
	topo, err := barrier.Discover(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	mainCam, extraCam, err := barrier.Connect(ctx, topo)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	log.Infow("connected to camera streams", "main", topo.MainStream, "main_wide", topo.MainWide, "use_extra", topo.UseExtra)

	d, err := modeld.New(modeld.Options{
		State:           state,
		Frames:          vsync.New(mainCam, extraCam, cfg.SyncConfig(), log),
		Live:            hub,
		Publisher:       bus,
		Drops:           cfg.DropConfig(),
		Vehicle:         vehicle,
		SteerDelayExtra: cfg.GetSteerDelayExtra(),
		MainWide:        topo.MainWide,
		Metrics:         metrics,
		CycleLog:        cycleLog,
		Log:             log,
	})
	if err != nil {
		return err
	}
	health.SetServing(true)
	return d.Run(ctx)
}
