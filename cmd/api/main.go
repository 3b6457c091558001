package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"idengine.org/internal/auth"
	"idengine.org/internal/config"
	"idengine.org/internal/httpapi"
	"idengine.org/internal/migrate"
	"idengine.org/internal/obs"
	"idengine.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		// Misconfiguration (missing signing secret and friends) aborts
		// startup; it must never degrade into per-request failures.
		bootLog := obs.NewLogger("info", false, os.Stderr)
		bootLog.Fatal().Err(err).Msg("configuration invalid")
	}

	log := obs.NewLogger(cfg.LogLevel, cfg.Env == "development", os.Stdout)
	obs.Init()

	var (
		store auth.Store
		ready httpapi.ReadyProbe
		sqlDB *sql.DB
	)
	if cfg.PGDSN == "" {
		// NOTE: state does not survive a restart; set IDENGINE_PG_DSN for
		// anything beyond local development.
		log.Warn().Msg("no database configured; using in-memory store")
		store = auth.NewMemStore()
	} else {
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open database")
		}
		defer pgStore.Close()
		sqlDB = pgStore.DB()
		ready = httpapi.ReadyProbe{DB: sqlDB}

		if cfg.MigrateOnBoot {
			mgr := migrate.NewManager(sqlDB, "migrations", "seeds")
			if err := mgr.Up(ctx); err != nil {
				log.Fatal().Err(err).Msg("apply migrations")
			}
		}
		store = pgStore
	}

	issuer, err := auth.NewIssuer(store, cfg.JWTSecret,
		auth.WithIssuerName(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("construct token issuer")
	}
	svc := auth.NewService(store, issuer)

	if err := svc.EnsureBuiltins(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure permission catalog")
	}
	if cfg.MigrateOnBoot && sqlDB != nil {
		// Seeds grant the catalog to the default roles, so they run after
		// EnsureBuiltins.
		mgr := migrate.NewManager(sqlDB, "migrations", "seeds")
		if err := mgr.Seed(ctx); err != nil {
			log.Fatal().Err(err).Msg("apply seeds")
		}
	}
	if sqlDB == nil {
		if err := seedDefaultRoles(ctx, svc); err != nil {
			log.Fatal().Err(err).Msg("seed default roles")
		}
	}
	if err := bootstrapAdmin(ctx, svc, store, log); err != nil {
		log.Fatal().Err(err).Msg("bootstrap admin user")
	}

	api := httpapi.New(httpapi.Options{
		Service:    svc,
		Logger:     log,
		Ready:      ready,
		Version:    version,
		LoginRate:  cfg.LoginRatePerSecond,
		LoginBurst: cfg.LoginRateBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("addr", cfg.Addr).Str("version", version).Msg("starting idengine-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("stopped")
}

// seedDefaultRoles mirrors the SQL seeds for the in-memory store: an admin
// role holding the full catalog and a user role holding read-only access.
func seedDefaultRoles(ctx context.Context, svc *auth.Service) error {
	admin, err := svc.CreateRole(ctx, "admin", "Full administrative access")
	if err != nil && !errors.Is(err, auth.ErrConflict) {
		return err
	}
	if err == nil {
		codes := make([]string, 0, len(auth.BuiltinPermissions))
		for _, p := range auth.BuiltinPermissions {
			codes = append(codes, p.Code)
		}
		if err := svc.SetRolePermissions(ctx, admin.ID, codes); err != nil {
			return err
		}
	}
	user, err := svc.CreateRole(ctx, "user", "Default role for registered users")
	if err != nil && !errors.Is(err, auth.ErrConflict) {
		return err
	}
	if err == nil {
		if err := svc.SetRolePermissions(ctx, user.ID, []string{auth.PermUserRead}); err != nil {
			return err
		}
	}
	return nil
}

// bootstrapAdmin creates the initial admin principal from the environment
// when configured. Idempotent: an existing user or assignment is left alone.
func bootstrapAdmin(ctx context.Context, svc *auth.Service, store auth.Store, log zerolog.Logger) error {
	email := os.Getenv("IDENGINE_ADMIN_EMAIL")
	password := os.Getenv("IDENGINE_ADMIN_PASSWORD")
	if email == "" || password == "" {
		return nil
	}

	user, err := svc.Register(ctx, email, password)
	switch {
	case err == nil:
		log.Info().Str("user_id", user.ID).Msg("created bootstrap admin user")
	case errors.Is(err, auth.ErrConflict):
		// Already bootstrapped on a previous boot; still make sure the role
		// assignment below holds.
		user, err = store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
		if err != nil {
			return err
		}
	default:
		return err
	}

	roles, err := svc.ListRoles(ctx)
	if err != nil {
		return err
	}
	for _, role := range roles {
		if role.Name != "admin" {
			continue
		}
		if _, err := svc.Resolver().AssignRole(ctx, user.ID, role.ID); err != nil {
			return err
		}
		return nil
	}
	log.Warn().Msg("admin role not found; run seeds before bootstrapping")
	return nil
}
