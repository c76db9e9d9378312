package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/devault/backend/internal/config"
	"github.com/devault/backend/internal/core/ports"
	"github.com/devault/backend/internal/core/services"
	"github.com/devault/backend/internal/core/tasks"
	"github.com/devault/backend/internal/infrastructure/archive"
	"github.com/devault/backend/internal/infrastructure/cipherstore"
	"github.com/devault/backend/internal/infrastructure/db"
	"github.com/devault/backend/internal/infrastructure/fsobserver"
	"github.com/devault/backend/internal/infrastructure/logger"
	"github.com/devault/backend/internal/infrastructure/remote"
	transporthttp "github.com/devault/backend/internal/transport/http"
	"github.com/devault/backend/internal/transport/http/handlers"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout  = 30 * time.Second
	timelineBuffer   = 256
	timelineStubSize = 500
)

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	database, err := db.NewPostgresConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(database); err != nil {
			log.Errorw("database_close_failed", "error", err)
		}
	}()
	log.Info("database connection established")

	if err := db.RunMigrations(database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database migrations completed")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keyManager := services.NewKeyManager(db.NewSystemSettingRepository(database, log), cfg.Security.EncryptionKey, log)
	if err := keyManager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize key manager: %w", err)
	}

	var timelineRepo ports.TimelineRepository
	if cfg.Features.PersistTaskEvents {
		timelineRepo = db.NewTimelineRepository(database, log)
	} else {
		timelineRepo = db.NewTimelineRepoStub(log, timelineStubSize)
	}

	layout := tasks.Layout{
		DataDir:         cfg.Storage.DataDir,
		DBDir:           cfg.Device.DBDir,
		ResDir:          cfg.Device.ResDir,
		EncryptedDBName: cfg.Device.EncryptedDBName,
		DecryptedDBName: cfg.Device.DecryptedDBName,
		ResourceFolders: cfg.Device.ResourceFolders,
	}
	files := fsobserver.New()

	transport := remote.NewTransport(remote.TransportConfig{
		Endpoints:  cfg.Device.Endpoints,
		Timeout:    cfg.Device.Timeout,
		MaxRetries: cfg.Device.MaxRetries,
		ShellRate:  cfg.Device.ShellRate,
		ShellBurst: cfg.Device.ShellBurst,
		Signer:     keyManager.Signer,
		Logger:     log.Named("device"),
	})

	projects := services.NewProjectService(services.ProjectServiceConfig{
		Repo:          db.NewProjectRepository(database, log),
		Files:         files,
		Layout:        layout,
		EncryptionKey: cfg.Security.EncryptionKey,
		Logger:        log,
	})

	commands := services.NewCommandService(services.CommandServiceConfig{
		Transport: transport,
		Projects:  projects,
		Layout:    layout,
		Logger:    log,
	})

	recorder := services.NewTimelineRecorder(timelineRepo, log, timelineBuffer)
	daemon := tasks.NewDaemon(tasks.DaemonConfig{
		TickInterval: cfg.Daemon.TickInterval,
		Deps: tasks.Deps{
			Transport: transport,
			Store:     cipherstore.New(cfg.Store.Driver, log.Named("store")),
			Files:     files,
			Extractor: archive.NewTarGz(),
			Commands:  commands.Table(),
			Layout:    layout,
			Defaults: tasks.Defaults{
				AliveTimeout:    cfg.Tasks.AliveTimeout,
				CheckerInterval: cfg.Tasks.CheckerInterval,
			},
		},
		Recorder: recorder,
		Logger:   log.Named("daemon"),
	})
	commands.AttachDaemon(daemon)

	cleanup := services.NewCleanupService(services.CleanupServiceConfig{
		TimelineRepo: timelineRepo,
		Retention:    cfg.Features.TimelineRetention,
		Logger:       log,
	})

	hub := handlers.NewSocketHub(log)
	taskService := services.NewTaskService(services.TaskServiceConfig{
		Daemon:    daemon,
		Publisher: hub,
		Projects:  projects,
		Logger:    log,
	})

	app := transporthttp.NewApp(cfg, log)
	transporthttp.SetupRoutes(app, transporthttp.RouterConfig{
		Logger:   log,
		Config:   cfg,
		Commands: commands,
		Tasks:    taskService,
		Timeline: timelineRepo,
		Devices:  transport,
		Hub:      hub,
	})

	ln, err := net.Listen("tcp", cfg.Server.Address())
	if err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	go recorder.Run(recorderCtx)
	daemon.Start(context.Background())

	var exitOnce sync.Once
	exitDaemon := func() {
		exitOnce.Do(func() {
			log.Info("stopping task daemon...")
			daemon.Exit()
			daemon.Join()
			stopRecorder()
			recorder.Wait()
		})
	}
	defer exitDaemon()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("server started on %s", ln.Addr())
		return app.Listener(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Errorw("server_forced_shutdown", "error", err)
		}
		exitDaemon()
		return nil
	})
	g.Go(func() error {
		cleanup.Run(gctx)
		return nil
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server exited gracefully")
	return nil
}
