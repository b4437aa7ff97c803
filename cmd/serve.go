package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/mqtt"
	"github.com/kozaktomas/face-attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the Face Attendance HTTP API.
The server recognizes uploaded probes, records attendance, manages the
enrolled gallery and runs fast versus accurate comparisons.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides SERVER_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides SERVER_HOST)")
	serveCmd.Flags().Bool("no-index", false, "Skip building HNSW indexes for nearest queries")
}

// saveIndexes writes the in-memory indexes back to the cache directory so
// faces enrolled while serving survive a restart.
func saveIndexes(a *app, indexes map[facematch.Kind]*database.HNSWIndex) {
	for kind, idx := range indexes {
		path := indexPath(a.cfg, kind)
		if path == "" {
			return
		}
		if err := saveIndex(idx, path); err != nil {
			a.log.WithError(err).WithField("kind", kind).Warn("Failed to save HNSW index")
			continue
		}
		a.log.WithField("kind", kind).Info("HNSW index saved to disk")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if port := mustGetInt(cmd, "port"); port > 0 {
		a.cfg.Server.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		a.cfg.Server.Host = host
	}

	var indexes map[facematch.Kind]*database.HNSWIndex
	if !mustGetBool(cmd, "no-index") {
		indexes = prepareIndexes(ctx, a)
	}

	pub, err := mqtt.New(a.cfg.MQTT, a.log)
	if err != nil {
		return fmt.Errorf("connecting to MQTT broker: %w", err)
	}
	defer pub.Close()

	svc := a.service(pub, indexes)
	server := web.NewServer(a.cfg, svc, a.thresholds, a.log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		a.log.Info("Shutting down")
		saveIndexes(a, indexes)

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			a.log.WithError(err).Error("Error during shutdown")
		}
	}()

	a.log.WithField("mode", a.arb.Config().Mode).Infof("Face Attendance API on http://%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
