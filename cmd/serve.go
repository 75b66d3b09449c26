package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/appforge/internal/api"
	"github.com/appforge/internal/config"
	"github.com/appforge/internal/credits"
	"github.com/appforge/internal/database"
	"github.com/appforge/internal/llm"
	"github.com/appforge/internal/sandbox"
	"github.com/appforge/internal/store"
	"github.com/appforge/internal/workflow"
)

// ServeCommand returns the CLI command for starting the AppForge server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the AppForge API server and workflow workers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	ctx := context.Background()

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	port := cfg.Server.Port
	if c.Int("port") > 0 {
		port = c.Int("port")
	}

	db, err := database.NewDB()
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	pool, err := database.NewPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create queue migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("failed to migrate queue schema: %w", err)
	}

	st := store.NewPostgresStore(db)
	ledger := credits.NewPostgresLedger(db)
	correlator := workflow.NewCorrelator(st)

	provisioner, err := sandbox.NewDockerProvisioner(sandbox.DockerConfig{
		Image:    cfg.Sandbox.Image,
		AppPort:  cfg.Sandbox.AppPort,
		WorkDir:  cfg.Sandbox.WorkDir,
		HostAddr: cfg.Sandbox.HostAddr,
	})
	if err != nil {
		return fmt.Errorf("failed to create sandbox provisioner: %w", err)
	}
	defer provisioner.Close()

	connector, err := llm.NewConnector(ctx, llm.Options{
		Provider:          llm.Provider(cfg.AI.Provider),
		APIKey:            cfg.AI.APIKey,
		BaseURL:           cfg.AI.BaseURL,
		Model:             cfg.AI.Model,
		Temperature:       cfg.AI.Temperature,
		RequestsPerMinute: cfg.AI.RequestsPerMinute,
	})
	if err != nil {
		return fmt.Errorf("failed to create LLM connector: %w", err)
	}

	coordinator := workflow.NewCoordinator(st, correlator, provisioner, connector)
	coordinator.QuestionTimeout = time.Duration(cfg.Workflow.QuestionTimeoutHours) * time.Hour
	coordinator.MaxIterations = cfg.Workflow.MaxIterations

	queue, err := workflow.NewQueue(pool, coordinator, workflow.QueueConfig{MaxWorkers: cfg.Queue.MaxWorkers})
	if err != nil {
		return err
	}
	if err := queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := queue.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("job queue did not stop cleanly")
		}
	}()

	log.Info().Int("port", port).Str("provider", cfg.AI.Provider).Msg("starting AppForge server")
	server := api.NewServer(port, st, ledger, correlator, queue, provisioner)
	return server.Start()
}
