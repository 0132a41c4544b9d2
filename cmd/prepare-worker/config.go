package main

import (
	"fmt"
	"os"

	"pvforge/internal/worker/ipc"
	"pvforge/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const defaultJobBinaryName = "prepare-job"

// SandboxConfig holds job process settings.
type SandboxConfig struct {
	// JobBinary is the path of the prepare-job executable. Empty means a
	// sibling of the worker binary.
	JobBinary string `yaml:"jobBinary"`
	// MaxResultBytes bounds the result frame a job may send.
	MaxResultBytes uint64 `yaml:"maxResultBytes"`
}

// AppConfig holds prepare-worker config. Everything has a default; the
// config file is optional and the host normally spawns the worker with
// flags alone.
type AppConfig struct {
	Logger  logger.Config `yaml:"logger"`
	Sandbox SandboxConfig `yaml:"sandbox"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.Sandbox.MaxResultBytes == 0 {
		cfg.Sandbox.MaxResultBytes = ipc.DefaultMaxFrameSize
	}
	return &cfg, nil
}
