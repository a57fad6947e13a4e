package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/isdmx/coderun/language"
)

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List supported languages",
	Args:  cobra.NoArgs,
	RunE:  runLanguages,
}

func init() {
	rootCmd.AddCommand(languagesCmd)
}

func runLanguages(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	registry, err := language.NewRegistryFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("loading languages: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tEXTENSION")
	for _, info := range registry.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Key, info.Name, info.Extension)
	}
	return w.Flush()
}
