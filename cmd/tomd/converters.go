package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kirillkom/tomd/internal/core/registry"
)

func newConvertersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "converters",
		Short: "List the conversion engines and the extensions they accept",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := registry.Default()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tAPI KEY\tEXTENSIONS")
			for _, desc := range catalog.List() {
				apiKey := "no"
				if desc.RequiresAPIKey {
					apiKey = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", desc.ID, desc.Name, apiKey, strings.Join(desc.SupportedExtensions, ","))
			}
			return tw.Flush()
		},
	}
}
