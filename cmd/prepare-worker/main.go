package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"pvforge/internal/supervisor"
	"pvforge/internal/worker"
	"pvforge/pkg/utils/logger"

	"go.uber.org/zap"
)

func main() {
	socketPath := flag.String("socket-path", "", "Unix socket of the host")
	workerDir := flag.String("worker-dir", "", "Worker-private directory")
	nodeVersion := flag.String("node-version", "", "Host node version, must match the worker build")
	configPath := flag.String("config", "", "Path to config file (optional)")
	flag.Parse()

	if *socketPath == "" || *workerDir == "" {
		fmt.Fprintln(os.Stderr, "usage: prepare-worker --socket-path PATH --worker-dir DIR [--node-version V] [--config FILE]")
		os.Exit(worker.ExitUsage)
	}

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(worker.ExitConfigInvalid)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(worker.ExitConfigInvalid)
	}
	defer func() {
		_ = logger.Sync()
	}()
	log := logger.L()

	// A worker from a stale deployment must never serve a newer host.
	if *nodeVersion != "" && *nodeVersion != worker.Version {
		log.Error("node version mismatch",
			zap.String("node_version", *nodeVersion),
			zap.String("worker_version", worker.Version))
		os.Exit(worker.ExitVersionMismatch)
	}

	jobBinary := appCfg.Sandbox.JobBinary
	if jobBinary == "" {
		exe, err := os.Executable()
		if err != nil {
			log.Error("resolve executable path", zap.Error(err))
			os.Exit(worker.ExitConfigInvalid)
		}
		jobBinary = filepath.Join(filepath.Dir(exe), defaultJobBinaryName)
	}

	if err := os.MkdirAll(*workerDir, 0o700); err != nil {
		log.Error("create worker dir", zap.Error(err))
		os.Exit(worker.ExitConfigInvalid)
	}

	conn, err := net.Dial("unix", *socketPath)
	if err != nil {
		log.Error("dial host socket", zap.String("socket_path", *socketPath), zap.Error(err))
		os.Exit(worker.ExitSocketFailed)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := supervisor.New(jobBinary)
	sup.MaxResultSize = appCfg.Sandbox.MaxResultBytes

	w := worker.New(conn, sup, filepath.Join(*workerDir, worker.ArtifactFileName))
	if err := w.Run(ctx); err != nil {
		log.Error("worker loop failed", zap.Error(err))
		os.Exit(worker.ExitSocketFailed)
	}
}
