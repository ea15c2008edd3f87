// Package main is the entry point for the warden CLI.
package main

import (
	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	// Load .env for secrets like WARDEN_SECRET_KEY and OPENROUTER_API_KEY.
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("warden"),
		kong.Description("Verified multi-agent task orchestrator with a blocking credential broker."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
