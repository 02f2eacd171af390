package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/BioHazard786/codedrop/internal/config"
	"github.com/BioHazard786/codedrop/internal/relay"
	"github.com/BioHazard786/codedrop/internal/ui"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var flagListen string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the relay server peers negotiate through",
	Long: `Run the websocket relay. Peers exchange offers, answers and candidates
through it; file data never passes through the relay.

Endpoints:
  /ws      relay protocol
  /health  liveness check`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd.Context())
	},
}

func runRelay(ctx context.Context) error {
	cfg, err := LoadConfig(config.Options{ConfigFile: flagConfig, ListenAddr: flagListen})
	if err != nil {
		return err
	}

	store := relay.NewMemory()
	defer store.Close()

	hub := relay.NewHub(store, cfg.SweepInterval.Duration, cfg.SweepHorizon.Duration, logger)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", relay.HealthHandler)
	mux.HandleFunc("/ws", relay.ServeWs(hub))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	ui.PrintInfof("Relay listening on %s", cfg.ListenAddr)
	logger.Info("relay started", "addr", cfg.ListenAddr, "sweep_interval", cfg.SweepInterval, "sweep_horizon", cfg.SweepHorizon)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	ui.PrintInfo("Relay stopped")
	return nil
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Listen address (default :8080)")
}
