// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/buildlead/dsa-harvester/internal/api"
	"github.com/buildlead/dsa-harvester/internal/classify"
	"github.com/buildlead/dsa-harvester/internal/config"
	"github.com/buildlead/dsa-harvester/internal/job"
	"github.com/buildlead/dsa-harvester/internal/logging"
	"github.com/buildlead/dsa-harvester/internal/navigator"
	"github.com/buildlead/dsa-harvester/internal/pagesource"
	"github.com/buildlead/dsa-harvester/internal/store"
)

// App holds the shared, long-lived services for the harvester. It is
// initialized once at startup and passed to the commands that need it.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Store      *store.Store
	Navigator  *navigator.Navigator
	Controller *job.Controller
	Server     *api.Server
}

// New wires every service from configuration, failing fast when any critical
// dependency cannot be initialized.
func New(cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	scorer, err := classify.NewScorer(cfg.Classifier.Strategy)
	if err != nil {
		return nil, err
	}

	st, err := store.New(store.Config{
		Path:        cfg.Store.Path,
		SaveRetries: cfg.Store.SaveRetries,
		SaveBackoff: cfg.SaveBackoff(),
	}, scorer, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	source := pagesource.NewClient(pagesource.Config{
		UserAgent: cfg.Site.UserAgent,
		Timeout:   cfg.SiteTimeout(),
	}, logger.Named("pagesource"))

	nav := navigator.New(source, cfg.Site.BaseURL, logger.Named("navigator"))

	controller := job.NewController(st, nav, job.Config{
		Delay:       cfg.HarvestDelay(),
		MaxProjects: cfg.Harvest.MaxProjects,
	}, logger.Named("job"))

	server := api.NewServer(st, controller, cfg, logger.Named("api"))

	logger.Info("application services initialized",
		zap.String("store_path", cfg.Store.Path),
		zap.String("classifier", cfg.Classifier.Strategy),
	)
	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      st,
		Navigator:  nav,
		Controller: controller,
		Server:     server,
	}, nil
}

// Close shuts down services and flushes buffered logs. A running harvest is
// cancelled and waited for so its terminal state reaches the database.
func (a *App) Close() {
	if _, err := a.Controller.Cancel(); err == nil {
		a.Logger.Info("active harvest cancelled for shutdown")
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("error closing store", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
