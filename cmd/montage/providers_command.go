package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bobarin/montage/internal/providers"
)

func newProvidersCommand() *cobra.Command {
	var tablePath string

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Show the provider capability table",
		RunE: func(cmd *cobra.Command, args []string) error {
			caps := providers.DefaultTable()
			if tablePath != "" {
				loaded, err := providers.LoadTable(tablePath)
				if err != nil {
					return err
				}
				caps = loaded
			}

			rows := make([][]string, 0, len(caps))
			for _, c := range caps {
				content := make([]string, len(c.ContentTypes))
				for i, ct := range c.ContentTypes {
					content[i] = string(ct)
				}
				maxDur := "-"
				if c.MaxDurationSec > 0 {
					maxDur = strconv.FormatFloat(c.MaxDurationSec, 'f', -1, 64) + "s"
				}
				rows = append(rows, []string{
					c.ID,
					string(c.Kind),
					strings.Join(content, ","),
					strings.Join(c.Styles, ","),
					maxDur,
					strconv.Itoa(c.QualityTier),
					strconv.FormatFloat(c.RelativeCost, 'f', -1, 64),
					fmt.Sprintf("%.2f", c.Reliability),
				})
			}
			columns := []column{
				{title: "ID"}, {title: "Kind"}, {title: "Content"}, {title: "Styles"},
				{title: "Max", numeric: true}, {title: "Tier", numeric: true}, {title: "Cost", numeric: true}, {title: "Reliability", numeric: true},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(columns, rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&tablePath, "table", "", "YAML capability table (defaults to the built-in table)")
	return cmd
}
