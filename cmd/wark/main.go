// Command wark is the CLI front-end: "wark run" executes a single
// WebAssembly module locally; "wark server" starts the HTTP service. Flag
// parsing follows the stdlib flag idiom cmd/wch-client/main.go
// demonstrates elsewhere in the teacher tree (no cobra/urfave-cli, despite
// some retrieval-pack repos using one), with flag names and defaults
// carried over from original_source/src/cli.rs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/jacoblin/wark/internal/authjwt"
	"github.com/jacoblin/wark/internal/config"
	"github.com/jacoblin/wark/internal/httpcache"
	"github.com/jacoblin/wark/internal/obslog"
	"github.com/jacoblin/wark/internal/obstrace"
	"github.com/jacoblin/wark/internal/sandbox"
	"github.com/jacoblin/wark/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCommand(os.Args[2:]))
	case "server":
		os.Exit(serverCommand(os.Args[2:]))
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "WebAssembly RunKit")
	fmt.Fprintln(os.Stderr, "usage: wark <run|server> [OPTIONS]")
}

func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	var memory uint
	var cost uint64
	var input string
	var stderrPath string
	var noReport bool

	fs.UintVar(&memory, "m", 512, "memory limit in MB")
	fs.UintVar(&memory, "memory", 512, "memory limit in MB")
	fs.Uint64Var(&cost, "c", 1_000_000_000, "computational cost limit in instruction count")
	fs.Uint64Var(&cost, "cost", 1_000_000_000, "computational cost limit in instruction count")
	fs.StringVar(&input, "i", "-", "input file path to the program ('-' for stdin)")
	fs.StringVar(&input, "input", "-", "input file path to the program ('-' for stdin)")
	fs.StringVar(&stderrPath, "stderr", "", "redirect program's stderr to a file")
	fs.BoolVar(&noReport, "n", false, "do not report the program's resource usage")
	fs.BoolVar(&noReport, "no-report", false, "do not report the program's resource usage")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: wark run [OPTIONS] <module-path>")
		return 2
	}
	modulePath := fs.Arg(0)

	moduleBytes, err := os.ReadFile(modulePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading module: %v\n", err)
		return 1
	}

	var stdinBytes []byte
	if input == "-" || input == "" {
		stdinBytes, err = io.ReadAll(os.Stdin)
	} else {
		stdinBytes, err = os.ReadFile(input)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading input: %v\n", err)
		return 1
	}

	runner := sandbox.NewRunner()
	outcome, err := runner.Run(context.Background(), sandbox.Request{
		ModuleBytes:   moduleBytes,
		Stdin:         stdinBytes,
		CostLimit:     cost,
		MemoryLimitMB: uint32(memory),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return 1
	}

	os.Stdout.Write(outcome.Stdout)

	if stderrPath != "" {
		if err := os.WriteFile(stderrPath, outcome.Stderr, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "writing stderr file: %v\n", err)
		}
	} else {
		os.Stderr.Write(outcome.Stderr)
	}

	if !noReport {
		fmt.Fprintf(os.Stderr, "\n--- wark report ---\ntermination: %s\nconsumed cost: %d / %d\npeak memory: %d pages (%d MiB)\n",
			outcome.Termination.Message(), outcome.ConsumedCost, cost, outcome.PeakMemoryPages, outcome.PeakMemoryPages/sandbox.PagesPerMB)
		if len(outcome.PenaltyOpcodes) > 0 {
			penalties, _ := json.Marshal(outcome.PenaltyOpcodes)
			fmt.Fprintf(os.Stderr, "penalty opcodes: %s\n", penalties)
		}
		if len(outcome.OperationCounts) > 0 {
			counts, _ := json.Marshal(outcome.OperationCounts)
			fmt.Fprintf(os.Stderr, "operation counts: %s\n", counts)
		}
	}

	if outcome.Termination.Kind == sandbox.TerminationExit {
		return outcome.Termination.ExitCode
	}
	return 1
}

func serverCommand(args []string) int {
	cfg := config.Load()

	log := obslog.New("wark", cfg.LogLevel)
	defer log.Sync()

	shutdownTracing := obstrace.Init("wark", log)
	defer shutdownTracing(context.Background())

	cache, err := httpcache.New(cfg.CacheDir, nil)
	if err != nil {
		log.Error("initializing http cache", obslog.Err(err))
		return 1
	}

	runner := sandbox.NewRunner()
	verifier := authjwt.New(cfg.AppSecret)
	srv := server.New(runner, cache, verifier, log)
	srv.MaxCost = cfg.MaxCost
	srv.MaxMemoryMB = cfg.MaxMemoryMB

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info("wark server listening", obslog.Int("port", cfg.Port))
	if err := http.ListenAndServe(addr, srv.Mux()); err != nil {
		log.Error("server exited", obslog.Err(err))
		return 1
	}
	return 0
}
