// Command nuzantara runs the agentic RAG core for Bali Zero.
//
// Usage:
//
//	nuzantara serve --config nuzantara.yaml
//	nuzantara validate --config nuzantara.yaml
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/balizero/nuzantara/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the HTTP gateway."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path" default:"nuzantara.yaml"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (text or json)." default:"text"`
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "dev"
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("nuzantara %s\n", buildVersion())
	return nil
}

func setupLogging(cli *CLI) (func(), error) {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		f, closeFn, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		output = f
		cleanup = closeFn
	}

	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}

func main() {
	cli := &CLI{}
	ktx := kong.Parse(cli,
		kong.Name("nuzantara"),
		kong.Description("Agentic RAG core: tiered routing, retrieval, tools and verified streaming answers."),
		kong.UsageOnError(),
	)

	if err := ktx.Run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
