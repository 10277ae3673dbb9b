package main

import (
	"fmt"

	"github.com/balizero/nuzantara/pkg/config"
)

// ValidateCmd loads a configuration file and reports whether it is usable.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	fmt.Printf("%s is valid\n", cli.Config)
	fmt.Printf("  collections: %d\n", len(cfg.Collections))
	fmt.Printf("  llm providers: %d\n", len(cfg.LLM.Providers))
	fmt.Printf("  tools: %d\n", len(cfg.Tools))
	return nil
}
