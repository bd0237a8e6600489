package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/catalog"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/config"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Catalog utilities",
	}
	cmd.AddCommand(catalogCheckCmd())
	return cmd
}

func catalogCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [path]",
		Short: "Validate a catalog file and print a summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				path = cfg.Catalog.Path
			}

			cat, err := catalog.LoadFile(path)
			if err != nil {
				return fmt.Errorf("catalog invalid: %w", err)
			}

			byCategory := map[string]int{}
			available := 0
			for _, p := range cat.Products() {
				byCategory[p.Category]++
				if p.Available {
					available++
				}
			}

			fmt.Printf("catalog OK: %d products (%d available)\n", cat.Len(), available)
			for category, n := range byCategory {
				fmt.Printf("  %-20s %d\n", category, n)
			}
			return nil
		},
	}
}
