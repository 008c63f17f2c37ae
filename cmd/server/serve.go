package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	cli "github.com/urfave/cli/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-oa-approvals/internal/handler"
	"github.com/pesio-ai/be-oa-approvals/internal/telemetry"
)

func serve(ctx context.Context, cmd *cli.Command) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	a.log.Info().
		Str("environment", a.cfg.Service.Environment).
		Str("store", a.cfg.Store).
		Msg("Starting OA approvals service")

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        a.cfg.Telemetry.Enabled,
		Endpoint:       a.cfg.Telemetry.OTLPEndpoint,
		Insecure:       a.cfg.Telemetry.Insecure,
		ServiceName:    a.cfg.Service.Name,
		ServiceVersion: a.cfg.Service.Version,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(ctx)
	})

	if err := a.openStore(ctx); err != nil {
		return err
	}
	svc, err := a.services(ctx)
	if err != nil {
		return err
	}
	if a.cfg.Seed {
		if err := a.seed(ctx, svc); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	var health handler.HealthChecker
	if a.db != nil {
		health = a.db
	}
	httpHandler := handler.NewHTTPHandler(svc, health, a.metrics, a.log.WithComponent("http"))
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler: httpHandler.Router(handler.RouterOptions{
			CORSOrigins:    a.cfg.Server.CORSOrigins,
			RequestTimeout: a.cfg.Server.RequestTimeout,
		}),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.UnaryLoggingInterceptor(a.log.WithComponent("grpc")),
		handler.UnaryAuthInterceptor(svc.Directory),
	))
	handler.NewGRPCHandler(svc, a.log).Register(grpcServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errc := make(chan error, 2)
	go func() {
		a.log.Info().Int("port", a.cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		a.log.Info().Int("port", a.cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errc <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info().Msg("Shutting down server...")
	case err = <-errc:
		a.log.Error().Err(err).Msg("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := httpServer.Shutdown(shutdownCtx); serr != nil {
		a.log.Error().Err(serr).Msg("HTTP server shutdown failed")
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}

	a.log.Info().Msg("Server stopped")
	return err
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	if a.cfg.Store != "postgres" {
		return fmt.Errorf("migrate requires the postgres store, got %q", a.cfg.Store)
	}
	if err := a.openStore(ctx); err != nil {
		return err
	}
	a.log.Info().Msg("Migrations applied")
	return nil
}

func seed(ctx context.Context, cmd *cli.Command) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.openStore(ctx); err != nil {
		return err
	}
	svc, err := a.services(ctx)
	if err != nil {
		return err
	}
	return a.seed(ctx, svc)
}
