package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/controlplane/gateway"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/buildinfo"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/config"
)

func main() {
	buildinfo.Log("registry-gateway")
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gateway.Run(ctx, cfg); err != nil {
		log.Fatalf("registry gateway error: %v", err)
	}
}
