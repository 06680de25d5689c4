package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arrajeevchandar/aerominds/internal/domain/entity"
	"github.com/arrajeevchandar/aerominds/internal/infra/tracing"
	"github.com/arrajeevchandar/aerominds/pkg/logger"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// Version is the application version.
const Version = "0.3.0"

var (
	logLevel       string
	traceEndpoint  string
	tracerProvider *sdktrace.TracerProvider
)

var rootCmd = &cobra.Command{
	Use:               "aerominds",
	Short:             "Video to 3D mesh reconstruction",
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initTracing,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP HTTP endpoint for stage spans; tracing is off when empty")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

func newLogger() (*zap.Logger, error) {
	return logger.NewConsole(logLevel)
}

func initTracing(cmd *cobra.Command, _ []string) error {
	if traceEndpoint == "" {
		return nil
	}
	tp, err := tracing.InitTracer(cmd.Context(), tracing.CLIService, traceEndpoint)
	if err != nil {
		return entity.NewConfigurationError("tracing", err)
	}
	tracerProvider = tp
	return nil
}

func shutdownTracing() {
	if tracerProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = tracerProvider.Shutdown(ctx)
	tracerProvider = nil
}

func execute() int {
	// Ctrl+C cancels the running stage; the workspace stays resumable.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	shutdownTracing()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if se, ok := entity.AsStageError(err); ok && se.Diagnostics != "" {
			fmt.Fprintln(os.Stderr, "\nlast output of the failing step:")
			fmt.Fprintln(os.Stderr, se.Diagnostics)
		}
	}
	return exitCode(err)
}

// exitCode maps the error kind onto a distinct process status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, entity.ErrValidation):
		return 2
	case errors.Is(err, entity.ErrConfiguration):
		return 3
	case errors.Is(err, entity.ErrStageExecution):
		return 4
	case errors.Is(err, entity.ErrIO):
		return 5
	case errors.Is(err, entity.ErrReconstruction):
		return 6
	case errors.Is(err, entity.ErrWorkspaceBusy):
		return 7
	default:
		return 1
	}
}
