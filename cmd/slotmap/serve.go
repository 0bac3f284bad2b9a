package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/slotmap/pkg/api"
	"github.com/jiayi-1994/slotmap/pkg/claims"
	"github.com/jiayi-1994/slotmap/pkg/config"
	"github.com/jiayi-1994/slotmap/pkg/metrics"
)

// serve runs the HTTP API until ctx is cancelled or a signal arrives
func serve(parent context.Context, svc *claims.Service, cfg config.ServerConfig) error {
	metrics.Register()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	setupSignalHandler(cancel)

	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: api.NewServer(svc).Handler(),
	}

	status := svc.Status()
	klog.Infof("Starting slotmap %s (commit: %s, built: %s)", version, gitCommit, buildDate)
	klog.Infof("Slot index: capacity=%d claimed=%d totalSlots=%d backend=%s",
		status.CapacityBits, status.Claimed, status.TotalSlots, status.Backend)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		klog.Infof("HTTP API listening on %s", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancelShutdown()
		klog.Info("Shutting down HTTP API")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	klog.Info("slotmap stopped")
	return nil
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		klog.Infof("Received signal %s, initiating shutdown...", sig)
		cancel()

		// Wait for second signal for force exit
		sig = <-sigCh
		klog.Infof("Received second signal %s, forcing exit", sig)
		os.Exit(1)
	}()
}
