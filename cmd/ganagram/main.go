package main

import (
	"context"
	"log/slog"
	"os"

	"ganagram/cmd/ganagram/commands"
	"ganagram/internal/components/osutil"
	"ganagram/internal/components/telemetry"
)

func main() {
	telemetry.InitSlog(false)

	ctx, cancel := osutil.SignalContext(context.Background())
	tel, err := telemetry.SetupFromEnv(ctx, "ganagram")
	if err != nil {
		slog.Warn("failed to setup telemetry, continuing without it", "err", err)
	}

	err = commands.ExecuteContext(ctx)
	cancel()

	shutdownErr := tel.Shutdown(context.Background())
	if shutdownErr != nil {
		slog.Warn("failed to flush telemetry", "err", shutdownErr)
	}
	if err != nil {
		os.Exit(1)
	}
}
