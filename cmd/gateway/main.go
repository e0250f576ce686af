package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	api "github.com/mind-engage/mindengage-exams/internal/api/http"
	"github.com/mind-engage/mindengage-exams/internal/auth"
	authmw "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/config"
	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/ledger"
	"github.com/mind-engage/mindengage-exams/internal/proctor"
	"github.com/mind-engage/mindengage-exams/internal/storage"
	"github.com/mind-engage/mindengage-exams/internal/syncx"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (env vars override it)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config", slog.Any("err", err))
		os.Exit(1)
	}
	log := newLogger(cfg)

	if err := run(cfg, log); err != nil {
		log.Error("gateway stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

type stores struct {
	catalog exam.Catalog
	ledger  ledger.Ledger
	events  syncx.Log
	users   auth.Store
	close   func() error
}

// openStores picks SQL or in-process storage from cfg.DBDriver.
func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if db.Driver(cfg.DBDriver) == db.DriverMemory {
		return stores{
			catalog: exam.NewInMemoryCatalog(),
			ledger:  ledger.NewInMemoryStore(),
			events:  syncx.NewMemoryLog(),
			users:   auth.NewMemoryStore(),
			close:   func() error { return nil },
		}, nil
	}
	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		return stores{}, err
	}
	return stores{
		catalog: exam.NewSQLStore(dbh),
		ledger:  ledger.NewSQLStore(dbh),
		events:  syncx.NewEventRepo(dbh, "gateway"),
		users:   auth.NewSQLStore(dbh),
		close:   dbh.Close,
	}, nil
}

func run(cfg config.Config, log *slog.Logger) (err error) {
	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	users := auth.NewDirectory(st.users)
	if err := users.EnsureAdmin(ctx, cfg.AdminUser, cfg.AdminPassHash); err != nil {
		return err
	}

	bs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		return err
	}

	svc := proctor.NewService(st.catalog, st.ledger, st.events, log)
	r := api.NewRouter(api.RouterConfig{
		Service:            svc,
		Auth:               authmw.NewAuthService(cfg.AuthHMACSecret, cfg.TokenTTL),
		Users:              users,
		Blobs:              bs,
		CORSOrigins:        cfg.CORSOrigins(),
		AllowClaimFallback: cfg.Mode == config.ModeOffline,
		Log:                log,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", cfg.HTTPAddr), slog.String("mode", string(cfg.Mode)),
			slog.String("db", cfg.DBDriver))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-sigCtx.Done():
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
