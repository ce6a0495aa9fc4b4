package app

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/MreRes/financial-bot/internal/closer"
	"github.com/MreRes/financial-bot/internal/config"
	"github.com/MreRes/financial-bot/internal/config/env"
	"github.com/MreRes/financial-bot/internal/logger"
)

var configPath string

func init() {
	flag.StringVar(&configPath, "config-path", ".env", "path to config file")
}

type App struct {
	serviceProvider *ServiceProvider
	log             zerolog.Logger
}

func NewApp(ctx context.Context) (*App, error) {
	a := &App{}

	err := a.initDeps(ctx)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) initDeps(ctx context.Context) error {
	inits := []func(context.Context) error{
		a.initConfig,
		a.initLogger,
		a.initServiceProvider,
	}

	for _, f := range inits {
		err := f(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *App) initConfig(context.Context) error {
	err := config.Load(configPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (a *App) initLogger(context.Context) error {
	appConfig, err := env.NewAppConfig()
	if err != nil {
		return err
	}
	level, err := zerolog.ParseLevel(appConfig.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	a.log = logger.New(level)
	return nil
}

func (a *App) initServiceProvider(context.Context) error {
	a.serviceProvider = NewServiceProvider(a.log)
	return nil
}

// Run starts the transport and the session event pump and blocks until a
// termination signal arrives or one of them fails.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		closer.CloseAll()
		closer.Wait()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tr := a.serviceProvider.Transport(ctx)
	go tr.Run(ctx)
	go a.serviceProvider.SchedulerService(ctx).Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.serviceProvider.SessionService(ctx).Run(ctx)
	}()

	a.log.Info().Msg("financial bot is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("shutting down")
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
}
