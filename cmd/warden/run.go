package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/wardenhq/warden/internal/credentials"
	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/roster"
	"github.com/wardenhq/warden/internal/runner"
)

var (
	agentStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	verdictPass   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	verdictFail   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	credStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	finishedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

func (c *RunCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	if c.Dev {
		cfg.Security.DevMode = true
	}

	logger := logging.New().WithComponent("warden")
	logger.SetOutput(os.Stderr)
	if os.Getenv("WARDEN_DEBUG") == "" {
		logger.SetLevel(logging.LevelWarn)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker, err := buildBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}

	task := c.Task
	var source roster.Source
	var builder roster.Builder
	if c.Script != "" {
		script, err := roster.LoadScript(c.Script)
		if err != nil {
			return err
		}
		if task == "" {
			task = script.Task
		}
		source = roster.NewScriptedSource(script.Messages)
		if r := script.Roster(); r != nil {
			builder = roster.StaticBuilder{R: r}
		}
	}
	if task == "" {
		return fmt.Errorf("no task given: pass one as an argument or via --script")
	}

	run := runner.New(runner.Options{
		Task:           task,
		Owner:          c.Owner,
		AutoApply:      !c.NoApply,
		MaxAgents:      cfg.Runner.MaxAgents,
		Gate:           buildGate(cfg, logger),
		Broker:         broker,
		Logger:         logger,
		Builder:        builder,
		Source:         source,
		CredentialWait: time.Duration(cfg.Runner.CredentialWaitSeconds) * time.Second,
		EventBuffer:    cfg.Events.BufferSize,
	})

	ch, unsubscribe := run.Sink().Subscribe()
	defer unsubscribe()
	run.Start(ctx)

	stdin := bufio.NewScanner(os.Stdin)
	for ev := range ch {
		c.printEvent(ev)
		if ev.Kind == events.KindCredentialRequest {
			provider, _ := ev.Payload["provider"].(string)
			fmt.Printf("Enter credential for %s: ", provider)
			if stdin.Scan() {
				if value := strings.TrimSpace(stdin.Text()); value != "" {
					if err := broker.Set(c.Owner, provider, value); err != nil {
						fmt.Fprintf(os.Stderr, "could not store credential: %v\n", err)
					} else {
						fmt.Printf("  stored as %s\n", credentials.Masked(value))
					}
				}
			}
		}
	}
	<-run.Done()

	if run.State() == runner.StateStopped {
		return fmt.Errorf("task stopped before completion")
	}
	return nil
}

func (c *RunCmd) printEvent(ev events.Event) {
	fmt.Println(formatEvent(ev, c.Plain))
}

// formatEvent renders one event as a terminal line. plain skips styling.
func formatEvent(ev events.Event, plain bool) string {
	render := func(s lipgloss.Style, text string) string {
		if plain {
			return text
		}
		return s.Render(text)
	}
	switch ev.Kind {
	case events.KindAgentMessage:
		sender, _ := ev.Payload["sender"].(string)
		recipient, _ := ev.Payload["recipient"].(string)
		content, _ := ev.Payload["content"].(string)
		return fmt.Sprintf("%s %s", render(agentStyle, fmt.Sprintf("%s -> %s:", sender, recipient)), content)
	case events.KindVerifierResult:
		verdict, _ := ev.Payload["verdict"].(string)
		reason, _ := ev.Payload["reason"].(string)
		style := verdictPass
		if verdict == "fail" {
			style = verdictFail
		}
		return fmt.Sprintf("  %s %s", render(style, "["+verdict+"]"), render(infoStyle, reason))
	case events.KindCredentialRequest:
		provider, _ := ev.Payload["provider"].(string)
		desc, _ := ev.Payload["description"].(string)
		return render(credStyle, fmt.Sprintf("! credential needed: %s (%s)", provider, desc))
	case events.KindActionResult:
		detail, _ := ev.Payload["detail"].(string)
		return render(infoStyle, "  * "+detail)
	case events.KindError:
		msg, _ := ev.Payload["msg"].(string)
		return render(verdictFail, "error: "+msg)
	case events.KindFinished:
		msg, _ := ev.Payload["msg"].(string)
		return render(finishedStyle, "== "+msg)
	default:
		msg, _ := ev.Payload["msg"].(string)
		return render(infoStyle, "- "+msg)
	}
}
