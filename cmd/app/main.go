package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sqliteadapter "github.com/atvirokodosprendimai/reportdesk/internal/adapters/db/sqlite"
	filesadapter "github.com/atvirokodosprendimai/reportdesk/internal/adapters/files"
	httpadapter "github.com/atvirokodosprendimai/reportdesk/internal/adapters/http"
	rpcadapter "github.com/atvirokodosprendimai/reportdesk/internal/adapters/rpcjson"
	"github.com/atvirokodosprendimai/reportdesk/internal/application"
	"github.com/atvirokodosprendimai/reportdesk/internal/config"
	"github.com/atvirokodosprendimai/reportdesk/internal/logging"
	"github.com/atvirokodosprendimai/reportdesk/internal/metrics"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "reportdesk",
		Usage: "Error report tracker server and CLI",
		Commands: []*cli.Command{
			serverCommand(),
			authCommand(),
			reportsCommand(),
			usersCommand(),
			filesCommand(),
			auditCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:  "server",
		Usage: "Run HTTP API and JSON-RPC socket",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML config file", Sources: cli.EnvVars(config.EnvPrefix + "CONFIG")},
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file loaded when present", Sources: cli.EnvVars(config.EnvPrefix + "ENV_FILE")},
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address"},
			&cli.StringFlag{Name: "rpc-socket", Usage: "JSON-RPC unix socket path"},
			&cli.StringFlag{Name: "db-path", Usage: "SQLite database path"},
			&cli.StringFlag{Name: "uploads-dir", Usage: "attachment storage directory"},
			&cli.StringFlag{Name: "admin-username", Usage: "initial admin username when users are empty"},
			&cli.StringFlag{Name: "admin-password", Usage: "initial admin password when users are empty"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-format", Usage: "json or text"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load(c.String("config"), c.String("env-file"))
			if err != nil {
				return err
			}
			overrides := map[string]*string{
				"addr":           &cfg.HTTPAddr,
				"rpc-socket":     &cfg.RPCSocket,
				"db-path":        &cfg.DBPath,
				"uploads-dir":    &cfg.UploadsDir,
				"admin-username": &cfg.AdminUsername,
				"admin-password": &cfg.AdminPassword,
				"log-level":      &cfg.LogLevel,
				"log-format":     &cfg.LogFormat,
			}
			for name, dst := range overrides {
				if c.IsSet(name) {
					*dst = c.String(name)
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(ctx, cfg)
		},
	}
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger := logging.New("reportdesk", cfg.LogLevel, cfg.LogFormat)

	db, err := sqliteadapter.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := sqliteadapter.Close(db); err != nil {
			logger.WithError(err).Warn("close database")
		}
	}()

	applied, err := sqliteadapter.RunMigrations(ctx, db)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.WithField("versions", applied).Info("migrations applied")

	store, err := filesadapter.NewLocalStore(cfg.UploadsDir)
	if err != nil {
		return err
	}
	m := metrics.New()

	accounts := application.NewAccountService(sqliteadapter.NewAccountRepository(db), application.AccountConfig{
		SessionTTL:    cfg.SessionTTL,
		TokenTTL:      cfg.TokenTTL,
		ResetPassword: cfg.ResetPassword,
	}, logger)
	reports := application.NewReportService(
		sqliteadapter.NewReportRepository(db),
		store,
		logger,
		application.WithStatusRecorder(m),
	)
	if err := accounts.BootstrapAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return err
	}

	router := httpadapter.NewRouter(httpadapter.Deps{
		Reports:  reports,
		Accounts: accounts,
		Files:    store,
		Log:      logger,
		Metrics:  m,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	rpcSrv, err := rpcadapter.Start(cfg.RPCSocket, rpcadapter.Services{
		Reports:  reports,
		Accounts: accounts,
		Files:    store,
		Log:      logger,
		Metrics:  m,
	})
	if err != nil {
		return err
	}
	logger.WithField("socket", cfg.RPCSocket).Info("json-rpc listening")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if cerr := rpcSrv.Close(); err == nil {
			err = cerr
		}
		return err
	})

	return g.Wait()
}
