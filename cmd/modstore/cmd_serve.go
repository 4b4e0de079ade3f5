package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/battlewithbytes/modstore/internal/backend"
	"github.com/battlewithbytes/modstore/internal/config"
	"github.com/battlewithbytes/modstore/internal/downloads"
	"github.com/battlewithbytes/modstore/internal/history"
	"github.com/battlewithbytes/modstore/internal/logging"
	"github.com/battlewithbytes/modstore/internal/metrics"
	"github.com/battlewithbytes/modstore/internal/server"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Mod Store service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		log, err := logging.New(cfg.Log.Logging())
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		defer log.Sync()

		fmt.Printf("Mod Store starting...\n")
		fmt.Printf("  listen:  %s\n", cfg.Service.Addr())
		fmt.Printf("  backend: %s\n", cfg.Backend.SocketPath)

		bk := backend.NewClient(cfg.Backend.SocketPath,
			backend.WithLogger(log.Named("backend")),
			backend.WithRequestTimeout(cfg.Backend.RequestTimeout),
			backend.WithReconnectDelay(cfg.Backend.ReconnectDelay),
		)
		defer bk.Close()

		col := metrics.New()
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := col.Register(promReg); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}

		regOpts := []downloads.Option{
			downloads.WithCanceller(bk),
			downloads.WithRetention(cfg.Downloads.FailureRetention, cfg.Downloads.CancelRetention),
			downloads.WithLogger(log.Named("downloads")),
		}
		srvOpts := []server.Option{
			server.WithInstaller(bk),
			server.WithMetrics(col, promReg),
			server.WithLogger(log.Named("server")),
		}

		if cfg.History.Enabled {
			if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0750); err != nil {
				return fmt.Errorf("creating history directory: %w", err)
			}
			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return fmt.Errorf("opening history: %w", err)
			}
			defer store.Close()
			rec := history.NewRecorder(store, cfg.History.Limit*10, log.Named("history"))
			defer rec.Close()
			regOpts = append(regOpts, downloads.OnFinished(rec.Hook))
			srvOpts = append(srvOpts, server.WithHistory(store))
			fmt.Printf("  history: %s\n", cfg.History.Path)
		} else {
			fmt.Printf("  history: disabled\n")
		}

		reg := downloads.New(regOpts...)
		defer reg.Close()
		reg.Subscribe(col.ObserveSnapshot)
		disp := downloads.NewDispatcher(reg, log.Named("dispatch"), col.ObserveEvent)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			if err := bk.Stream(ctx, func(ev downloads.Event) { disp.Dispatch(ev) }); err != nil && ctx.Err() == nil {
				log.Errorw("backend event stream stopped", "err", err)
			}
		}()

		srv := server.New(cfg, reg, disp, srvOpts...)
		errCh := make(chan error, 1)
		go func() {
			fmt.Printf("\nListening on http://%s\n", srv.Addr())
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-ctx.Done():
		}
		fmt.Println("\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}
