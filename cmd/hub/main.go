// Command hub runs the homelab fleet management hub as a single
// long-lived process: it wires pkg/hub, starts its background loops,
// and waits for a termination signal.
//
// Configuration comes entirely from the environment. Flag parsing and
// YAML config loading are deliberately left to whatever init system or
// wrapper script starts this binary — they add no design of their own.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/homelabhq/hub/pkg/hub"
	"github.com/homelabhq/hub/pkg/log"
	"github.com/homelabhq/hub/pkg/scheduler"
	"github.com/homelabhq/hub/pkg/types"
)

func main() {
	log.Init(log.Config{
		Level:      log.Level(getenv("HUB_LOG_LEVEL", "info")),
		JSONOutput: getenvBool("HUB_LOG_JSON", true),
	})

	cfg := hub.Config{
		DataDir:         getenv("HUB_DATA_DIR", "/var/lib/homelab-hub"),
		VaultKeyBase64:  os.Getenv("HUB_VAULT_KEY"),
		HubURL:          os.Getenv("HUB_URL"),
		WebhookURL:      os.Getenv("HUB_WEBHOOK_URL"),
		LegacySharedKey: os.Getenv("HUB_LEGACY_SHARED_KEY"),
		Alerts:          types.DefaultAlertConfig(),
		Scheduler: scheduler.Config{
			DriftCheckCron:   getenv("HUB_DRIFT_CHECK_CRON", "0 3 * * *"),
			CostRolloverCron: getenv("HUB_COST_ROLLOVER_CRON", "0 0 * * *"),
		},
	}

	if cfg.VaultKeyBase64 == "" {
		fmt.Fprintln(os.Stderr, "HUB_VAULT_KEY is required (base64 AES-256-GCM key)")
		os.Exit(1)
	}

	h, err := hub.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start hub: %v\n", err)
		os.Exit(1)
	}

	h.Start()
	log.Logger.Info().Str("data_dir", cfg.DataDir).Msg("hub running, press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Logger.Info().Msg("shutting down")
	if err := h.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
		os.Exit(1)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
