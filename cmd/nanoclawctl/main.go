// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

// nanoclawctl is the operator CLI for a running nanoclaw daemon. It
// speaks the admin protocol over the daemon's Unix socket.
//
// Usage:
//
//	nanoclawctl [flags] status
//	nanoclawctl [flags] group list
//	nanoclawctl [flags] group register --folder F --channel C --chat-id ID [--name N] [--main] [--image I]
//	nanoclawctl [flags] group unregister <folder>
//	nanoclawctl [flags] task list [folder]
//	nanoclawctl [flags] task pause|resume|cancel <task-id>
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/qwibitai/nanoclaw-sub016/admin"
	"github.com/qwibitai/nanoclaw-sub016/lib/process"
	"github.com/qwibitai/nanoclaw-sub016/lib/version"
)

const defaultSocket = "/run/nanoclaw/admin.sock"

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var socketPath string
	var timeout time.Duration
	var outputJSON bool

	flagSet := pflag.NewFlagSet("nanoclawctl", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", envOr("NANOCLAW_SOCKET", defaultSocket), "path to the daemon admin socket")
	flagSet.DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	flagSet.BoolVar(&outputJSON, "json", false, "output as JSON instead of a table")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Println("nanoclawctl " + version.Full())
		return nil
	}

	// Subcommand flags (group register) live on the same set; pflag
	// interspersed parsing lets them appear after the subcommand words.
	var spec admin.GroupSpec
	flagSet.StringVar(&spec.Folder, "folder", "", "group folder (register)")
	flagSet.StringVar(&spec.Channel, "channel", "", "channel adapter name (register)")
	flagSet.StringVar(&spec.ChatID, "chat-id", "", "channel-native chat identifier (register)")
	flagSet.StringVar(&spec.Name, "name", "", "trigger name (register)")
	flagSet.BoolVar(&spec.IsMain, "main", false, "mark as the privileged main group (register)")
	flagSet.StringVar(&spec.Image, "image", "", "container image override (register)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	args := flagSet.Args()
	if len(args) == 0 {
		printHelp(flagSet)
		return fmt.Errorf("a command is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := admin.NewClient(socketPath)
	app := &app{client: client, outputJSON: outputJSON}

	switch args[0] {
	case "status":
		return app.status(ctx)
	case "group":
		return app.group(ctx, args[1:], spec)
	case "task":
		return app.task(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

type app struct {
	client     *admin.Client
	outputJSON bool
}

func (a *app) status(ctx context.Context) error {
	response, err := a.client.Do(ctx, admin.Request{Action: admin.ActionStatus})
	if err != nil {
		return err
	}
	status := response.Status
	if status == nil {
		return fmt.Errorf("daemon returned no status")
	}
	if a.outputJSON {
		return printJSON(status)
	}
	fmt.Printf("version:   %s\n", status.Version)
	fmt.Printf("uptime:    %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
	fmt.Printf("groups:    %d\n", status.Groups)
	fmt.Printf("ticks:     %d\n", status.SchedulerTicks)
	fmt.Printf("completed: %d\n", status.Completed)
	fmt.Printf("retries:   %d\n", status.Retries)
	fmt.Printf("failed:    %d\n", status.Failed)
	fmt.Printf("rejected:  %d\n", status.Rejected)
	return nil
}

func (a *app) group(ctx context.Context, args []string, spec admin.GroupSpec) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: nanoclawctl group list|register|unregister")
	}
	switch args[0] {
	case "list":
		response, err := a.client.Do(ctx, admin.Request{Action: admin.ActionListGroups})
		if err != nil {
			return err
		}
		if a.outputJSON {
			return printJSON(response.Groups)
		}
		writer := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "FOLDER\tCHANNEL\tCHAT\tNAME\tSTATE\tMAIN")
		for _, group := range response.Groups {
			main := ""
			if group.IsMain {
				main = "yes"
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
				group.Folder, group.Channel, group.ChatID, group.Name, group.State, main)
		}
		return writer.Flush()

	case "register":
		if spec.Folder == "" || spec.Channel == "" || spec.ChatID == "" {
			return fmt.Errorf("group register requires --folder, --channel, and --chat-id")
		}
		if _, err := a.client.Do(ctx, admin.Request{Action: admin.ActionRegisterGroup, Group: &spec}); err != nil {
			return err
		}
		fmt.Printf("registered %s\n", spec.Folder)
		return nil

	case "unregister":
		if len(args) != 2 {
			return fmt.Errorf("usage: nanoclawctl group unregister <folder>")
		}
		if _, err := a.client.Do(ctx, admin.Request{Action: admin.ActionUnregisterGroup, Folder: args[1]}); err != nil {
			return err
		}
		fmt.Printf("unregistered %s\n", args[1])
		return nil

	default:
		return fmt.Errorf("unknown group command %q", args[0])
	}
}

func (a *app) task(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: nanoclawctl task list|pause|resume|cancel")
	}
	switch args[0] {
	case "list":
		request := admin.Request{Action: admin.ActionListTasks}
		if len(args) > 1 {
			request.Folder = args[1]
		}
		response, err := a.client.Do(ctx, request)
		if err != nil {
			return err
		}
		if a.outputJSON {
			return printJSON(response.Tasks)
		}
		writer := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "ID\tGROUP\tSCHEDULE\tSTATUS\tNEXT\tRUNS\tPROMPT")
		for _, task := range response.Tasks {
			next := "-"
			if task.NextRun > 0 {
				next = time.Unix(0, task.NextRun).UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(writer, "%s\t%s\t%s %s\t%s\t%s\t%d\t%s\n",
				task.ID, task.Group, task.Schedule, task.ScheduleExpr,
				task.Status, next, task.RunCount, truncate(task.Prompt, 40))
		}
		return writer.Flush()

	case "pause", "resume", "cancel":
		if len(args) != 2 {
			return fmt.Errorf("usage: nanoclawctl task %s <task-id>", args[0])
		}
		verbs := map[string][2]string{
			"pause":  {admin.ActionPauseTask, "paused"},
			"resume": {admin.ActionResumeTask, "resumed"},
			"cancel": {admin.ActionCancelTask, "cancelled"},
		}
		verb := verbs[args[0]]
		if _, err := a.client.Do(ctx, admin.Request{Action: verb[0], TaskID: args[1]}); err != nil {
			return err
		}
		fmt.Printf("%s %s\n", verb[1], args[1])
		return nil

	default:
		return fmt.Errorf("unknown task command %q", args[0])
	}
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Print(`nanoclawctl — operator CLI for the nanoclaw daemon

Commands:
  status                      daemon health and counters
  group list                  registered groups
  group register [flags]      register a group (--folder, --channel, --chat-id)
  group unregister <folder>   archive and remove a group
  task list [folder]          scheduled tasks, optionally for one group
  task pause <task-id>        suspend a task
  task resume <task-id>       reactivate a paused task
  task cancel <task-id>       permanently retire a task

Flags:
`)
	fmt.Print(flagSet.FlagUsages())
}
