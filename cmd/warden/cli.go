// Package main defines the CLI structure using kong.
package main

import "fmt"

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Run the orchestrator server"`
	Run     RunCmd     `cmd:"" help:"Run a single task in the foreground"`
	Watch   WatchCmd   `cmd:"" help:"Attach a live event viewer to a running task"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// ServeCmd runs the HTTP server.
type ServeCmd struct {
	Config string `help:"Config file path (default: warden.toml if present)"`
	Listen string `help:"Listen address override"`
	Dev    bool   `help:"Dev mode: cleartext credential storage and a stub verifier"`
}

// RunCmd executes one task in the foreground and prints its events.
type RunCmd struct {
	Task    string `arg:"" optional:"" help:"Task description (omit when --script provides one)"`
	Owner   string `short:"u" default:"local" help:"Owner id for credential scoping"`
	Script  string `short:"s" help:"Conversation script (yaml) to replay instead of the built-in demo"`
	Config  string `help:"Config file path"`
	NoApply bool   `help:"Report verifier failures without applying suggested actions"`
	Dev     bool   `help:"Dev mode: cleartext credential storage and a stub verifier"`
	Plain   bool   `help:"Disable styled output"`
}

// WatchCmd streams a task's events into an interactive pager.
type WatchCmd struct {
	TaskID string `arg:"" help:"Task id to watch"`
	Server string `default:"http://localhost:8787" help:"Orchestrator base URL"`
}

// VersionCmd prints build information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("warden version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
