package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/downfa11-org/streamlog/pkg/config"
	"github.com/downfa11-org/streamlog/pkg/disk"
	"github.com/downfa11-org/streamlog/pkg/segment"
	"github.com/downfa11-org/streamlog/pkg/server"
	"github.com/downfa11-org/streamlog/util"
)

const containerName = "container-0"

func main() {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		util.Fatal("❌ Failed to load config: %v", err)
	}

	util.Info("🚀 Starting segment store on port %d (backend=%s, log dir=%s)", cfg.Port, cfg.DataLogBackend, cfg.LogDir)
	util.Info("📊 Exporter: %v | checkpoint every %d ops or %d bytes", cfg.EnableExporter, cfg.DurableLog.CheckpointCommitCount, cfg.DurableLog.CheckpointTotalCommitLength)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataLog, err := disk.OpenDataLog(cfg, containerName)
	if err != nil {
		util.Fatal("❌ Failed to open data log: %v", err)
	}

	container, err := segment.NewContainer(containerName, cfg, dataLog)
	if err != nil {
		util.Fatal("❌ Failed to create container: %v", err)
	}
	if err := container.Start(ctx); err != nil {
		util.Fatal("❌ Failed to recover container: %v", err)
	}
	defer func() {
		if err := container.Stop(); err != nil {
			util.Error("failed to stop container: %v", err)
		}
	}()

	if err := server.RunServer(ctx, cfg, container); err != nil {
		util.Error("❌ Segment store failed: %v", err)
		return
	}
	util.Info("👋 Segment store stopped")
}
