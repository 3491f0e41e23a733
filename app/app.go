package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/abcfe/hdpay/common/logger"
	conf "github.com/abcfe/hdpay/config"
	"github.com/abcfe/hdpay/core"
	"github.com/abcfe/hdpay/secret"
	"github.com/abcfe/hdpay/storage"
)

type App struct {
	stop     chan struct{}
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc

	Conf    conf.Config
	Store   storage.IndexStore
	Service *core.Service
}

func New(configPath string) (*App, error) {
	cfg, err := conf.NewConfig(configPath)
	if err != nil {
		fmt.Println("Failed to initialized application: ", err)
		return nil, err
	}

	if err := logger.InitLogger(cfg); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		return nil, err
	}

	store, err := storage.NewStore(&cfg.DB)
	if err != nil {
		logger.Error("Failed to load db: ", err)
		return nil, err
	}

	provider, err := secret.NewProviderFromConfig(&cfg.Secret)
	if err != nil {
		logger.Error("Failed to initialize secret provider: ", err)
		store.Close()
		return nil, err
	}
	logger.Info("secret provider: ", provider.Name(), ", db backend: ", cfg.DB.Backend)

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		stop:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		Conf:    *cfg,
		Store:   store,
		Service: core.NewService(provider, store),
	}, nil
}

// Context is cancelled once the app terminates
func (p *App) Context() context.Context {
	return p.ctx
}

func (p *App) Cleanup() {
	if p.Store != nil {
		if err := p.Store.Close(); err != nil {
			logger.Error("Failed to close db: ", err)
		}
	}
	logger.Info("resources released")
	logger.Sync()
}

func (p *App) Wait() {
	<-p.stop
}

// Terminate cancels in-flight work and releases resources, safe to call twice
func (p *App) Terminate() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.Cleanup()
		close(p.stop)
	})
}

func (p *App) SigHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Arrived terminate signal: ", sig)
			p.Terminate()
		case <-p.stop:
		}
		signal.Stop(sigCh)
	}()
}
