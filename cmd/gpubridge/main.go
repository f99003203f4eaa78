// Package main is the entry point for the gpubridge client
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"gpubridge/internal/config"
	"gpubridge/internal/history"
	"gpubridge/internal/logging"
	"gpubridge/internal/telemetry"
	"gpubridge/internal/tunnel"
	"gpubridge/internal/version"
)

func main() {
	// Load .env file if it exists (for development)
	if err := godotenv.Load(); err != nil {
		if os.Getenv("DEBUG") == "true" {
			log.Printf("No .env file found or error loading it: %v", err)
		}
	}

	// Handle version flag first, before loading configuration
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version" || os.Args[1] == "version") {
		versionInfo := version.Get()
		fmt.Printf("gpubridge version %s\n", versionInfo.Version)
		fmt.Printf("  commit: %s\n", versionInfo.Commit)
		fmt.Printf("  built: %s\n", versionInfo.BuildDate)
		fmt.Printf("  go: %s\n", versionInfo.GoVersion)
		fmt.Printf("  platform: %s\n", versionInfo.Platform)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// File logging keeps a record of long generations without cluttering
	// the terminal output.
	if err := logging.Initialize("./logs"); err != nil {
		log.Printf("Warning: Failed to initialize file logging: %v", err)
	} else {
		defer logging.Close()
	}

	ctx := context.Background()
	shutdown, err := telemetry.InitializeFromEnv(ctx)
	if err != nil {
		log.Printf("Warning: Failed to initialize telemetry: %v", err)
	} else {
		defer func() {
			if err := shutdown(ctx); err != nil {
				log.Printf("Error shutting down telemetry: %v", err)
			}
		}()
	}

	if err := history.Initialize(config.ExpandHome(cfg.Storage.DatabasePath)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize history database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := history.Close(); err != nil {
			log.Printf("Failed to close history database: %v", err)
		}
	}()

	pruner := history.NewPruner(cfg.Storage.KeepDays)
	if err := pruner.Start(cfg.Storage.PruneSchedule); err != nil {
		log.Printf("Warning: Failed to schedule history pruning: %v", err)
	} else {
		defer pruner.Stop()
	}

	registry := tunnel.NewRegistry(cfg)
	defer registry.CloseAll()

	if err := dispatch(ctx, cfg, registry, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: gpubridge <command> [flags]

Commands:
  status       Show tunnel state, remote services, and local vitals
  generate     Run an image generation workflow on the remote GPU
  models       List, pull, remove, or inspect Ollama models
  checkpoints  List ComfyUI checkpoint models
  loras        List ComfyUI LoRA models
  analyze      Describe a local image with a vision model
  history      Show recent generations
  presets      List or save generation presets
  disconnect   Tear down all SSH tunnels
  version      Show version information`)
}
