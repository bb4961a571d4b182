package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/packetkeeper/packetkeeper/internal/buildinfo"
	"github.com/packetkeeper/packetkeeper/internal/keeper/cli"
	"github.com/packetkeeper/packetkeeper/internal/keeper/config"
	"github.com/packetkeeper/packetkeeper/internal/logging"
)

func newLogger(cfg *config.Config) logging.Logger {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return logging.NewSlogLogger(slog.New(slog.NewJSONHandler(w, nil)))
}

func main() {
	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	log := newLogger(cfg)

	app, err := cli.NewApp(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "startup failed", "error", err)
		os.Exit(1)
	}

	app.Run(ctx)
}
