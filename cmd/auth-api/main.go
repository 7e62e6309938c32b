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
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	_ "github.com/noah-isme/secure-login-api/api/swagger"
	"github.com/noah-isme/secure-login-api/internal/handler"
	"github.com/noah-isme/secure-login-api/pkg/config"
	"github.com/noah-isme/secure-login-api/pkg/logger"
)

// @title Secure Login API
// @version 1.0.0
// @description Account registration, lockout-protected login and rotating refresh-token sessions.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const usage = `usage: auth-api [command]

commands:
  serve                  run the HTTP server (default)
  revoke-chain <id>      revoke every live token in the refresh chain containing <id>
  show-chain <id>        print the refresh chain containing <id>, root first`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr, os.Args[1:]); err != nil {
		logr.Sugar().Fatalw("command failed", "error", err)
	}
}

func run(cfg *config.Config, logr *zap.Logger, args []string) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "serve":
		return serve(cfg, logr)
	case "revoke-chain", "show-chain":
		if len(args) != 2 {
			return errors.New(usage)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if command == "revoke-chain" {
			return revokeChain(ctx, cfg, logr, args[1])
		}
		return showChain(ctx, cfg, logr, args[1])
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

func serve(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := newApplication(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logr.Warn("shutdown cleanup failed", zap.Error(err))
		}
	}()
	app.audit.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler.NewRouter(app.routerConfig()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func revokeChain(ctx context.Context, cfg *config.Config, logr *zap.Logger, tokenID string) error {
	cfg.RateLimit.Enabled = false
	app, err := newApplication(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer app.Close() //nolint:errcheck

	revoked, err := app.auth.RevokeChain(ctx, tokenID)
	if err != nil {
		return err
	}
	fmt.Printf("revoked %d token(s) in chain of %s\n", revoked, tokenID)
	return nil
}

func showChain(ctx context.Context, cfg *config.Config, logr *zap.Logger, tokenID string) error {
	cfg.RateLimit.Enabled = false
	app, err := newApplication(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer app.Close() //nolint:errcheck

	chain, err := app.chains.Chain(ctx, tokenID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACCOUNT\tCREATED\tEXPIRES\tREVOKED\tREASON")
	for _, link := range chain {
		reason := "-"
		if link.RevokeReason != nil {
			reason = *link.RevokeReason
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			link.ID, link.AccountID,
			link.CreatedAt.Format(time.RFC3339), link.ExpiresAt.Format(time.RFC3339),
			link.Revoked, reason)
	}
	return w.Flush()
}
