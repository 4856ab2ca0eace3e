package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/openfab/commlink/internal/daemon"
	"github.com/openfab/commlink/internal/model"
	"github.com/openfab/commlink/internal/status"
	"github.com/openfab/commlink/internal/uds"
)

const version = "1.0.0"

const defaultConfigPath = "commlink.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "daemon":
		runDaemon(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "send":
		runSend(os.Args[2:])
	case "print":
		runPrint(os.Args[2:])
	case "pause":
		runSimple("pause", os.Args[2:])
	case "resume":
		runSimple("resume", os.Args[2:])
	case "cancel":
		runSimple("cancel", os.Args[2:])
	case "read":
		runRead(os.Args[2:])
	case "poller":
		runPoller(os.Args[2:])
	case "files":
		runSimple("files", os.Args[2:])
	case "rescan":
		runSimple("rescan", os.Args[2:])
	case "traffic":
		runTraffic(os.Args[2:])
	case "ping":
		runSimple("ping", os.Args[2:])
	case "shutdown":
		runSimple("shutdown", os.Args[2:])
	case "version":
		fmt.Printf("commlinkd %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// splitConfigFlag strips --config <path> out of args and returns the
// remaining arguments with the loaded configuration.
func splitConfigFlag(args []string) ([]string, model.Config) {
	configPath := defaultConfigPath
	var rest []string
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" {
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--config requires a value")
				os.Exit(1)
			}
			i++
			configPath = args[i]
			continue
		}
		rest = append(rest, args[i])
	}

	cfg, err := model.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	return rest, cfg
}

func runDaemon(args []string) {
	rest, cfg := splitConfigFlag(args)
	if len(rest) > 0 {
		fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: commlinkd daemon [--config <path>]\n", rest[0])
		os.Exit(1)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runStatus(args []string) {
	rest, cfg := splitConfigFlag(args)

	jsonOutput := false
	for _, a := range rest {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: commlinkd status [--json] [--config <path>]\n", a)
			os.Exit(1)
		}
	}

	if err := status.Run(cfg.Daemon.SocketPath, cfg.Daemon.SnapshotPath, jsonOutput, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runSend(args []string) {
	rest, cfg := splitConfigFlag(args)

	params := daemon.SendParams{}
	var lineParts []string
	for _, a := range rest {
		switch a {
		case "--priority":
			params.Priority = true
		case "--dedup":
			params.Dedup = true
		default:
			if strings.HasPrefix(a, "--") {
				fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: commlinkd send <line> [--priority] [--dedup]\n", a)
				os.Exit(1)
			}
			lineParts = append(lineParts, a)
		}
	}
	if len(lineParts) == 0 {
		fmt.Fprintln(os.Stderr, "usage: commlinkd send <line> [--priority] [--dedup]")
		os.Exit(1)
	}
	params.Line = strings.Join(lineParts, " ")

	sendControl(cfg, "send", params)
}

func runPrint(args []string) {
	rest, cfg := splitConfigFlag(args)
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: commlinkd print <name>")
		os.Exit(1)
	}
	sendControl(cfg, "print", daemon.PrintParams{Name: rest[0]})
}

func runRead(args []string) {
	rest, cfg := splitConfigFlag(args)
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: commlinkd read <count>")
		os.Exit(1)
	}
	count, err := strconv.Atoi(rest[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid count: %s\n", rest[0])
		os.Exit(1)
	}
	sendControl(cfg, "read", daemon.ReadParams{Count: count})
}

func runPoller(args []string) {
	rest, cfg := splitConfigFlag(args)
	if len(rest) != 1 || (rest[0] != "pause" && rest[0] != "resume") {
		fmt.Fprintln(os.Stderr, "usage: commlinkd poller <pause|resume>")
		os.Exit(1)
	}
	sendControl(cfg, "poller", daemon.PollerParams{Action: rest[0]})
}

func runTraffic(args []string) {
	rest, cfg := splitConfigFlag(args)
	if len(rest) != 1 || (rest[0] != "on" && rest[0] != "off") {
		fmt.Fprintln(os.Stderr, "usage: commlinkd traffic <on|off>")
		os.Exit(1)
	}
	sendControl(cfg, "traffic", daemon.TrafficParams{Enabled: rest[0] == "on"})
}

func runSimple(command string, args []string) {
	rest, cfg := splitConfigFlag(args)
	if len(rest) > 0 {
		fmt.Fprintf(os.Stderr, "unknown argument: %s\nusage: commlinkd %s [--config <path>]\n", rest[0], command)
		os.Exit(1)
	}
	sendControl(cfg, command, nil)
}

// sendControl sends one request to the daemon and prints the JSON reply.
func sendControl(cfg model.Config, command string, params any) {
	client := uds.NewClient(cfg.Daemon.SocketPath)
	resp, err := client.SendCommand(command, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}

	if !resp.Success {
		code := ""
		msg := "unknown error"
		if resp.Error != nil {
			code = resp.Error.Code
			msg = resp.Error.Message
		}
		fmt.Fprintf(os.Stderr, "%s failed [%s]: %s\n", command, code, msg)
		os.Exit(1)
	}

	if len(resp.Data) > 0 {
		out, _ := json.MarshalIndent(json.RawMessage(resp.Data), "", "  ")
		fmt.Println(string(out))
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `commlinkd %s - printer link daemon

Usage: commlinkd <command> [options]

Daemon:
  daemon [--config <path>]   Run the daemon process
  status [--json]            Show link, job and queue state
  shutdown                   Ask the daemon to stop
  ping                       Check that the daemon answers

Commands:
  send <line> [--priority] [--dedup]   Queue one instruction line
  print <name>                         Start printing a spool file
  pause                                Pause the active print job
  resume                               Resume the paused print job
  cancel                               Cancel the active print job
  read <count>                         Grant the job a read budget

Spool:
  files                      List the spool catalog
  rescan                     Force a spool rescan

Tuning:
  poller <pause|resume>      Pause or resume the status poller
  traffic <on|off>           Toggle wire traffic logging

Every command accepts --config <path> (default %s).

`, version, defaultConfigPath)
}
