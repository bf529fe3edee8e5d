package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rolling-glass/looking-glass/pkg/protocol"
	"github.com/rolling-glass/looking-glass/pkg/storage"
)

var visitsCmd = &cobra.Command{
	Use:   "visits STORE",
	Short: "Prints the visits recorded by glass",
	Long: `Prints the visit log from the store file configured through store.path.
glass locks the store while it runs, so stop it before reading the log.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}

		protocols, err := cmd.Flags().GetBool("protocols")
		if err != nil {
			return err
		}

		format, err := cmd.Flags().GetString("output")
		if err != nil {
			return err
		}

		if format != "text" && format != "json" && format != "yaml" {
			return eris.Errorf("unsupported output format %s", format)
		}

		store, err := storage.OpenReadOnly(args[0])
		if err != nil {
			return err
		}
		defer store.Close()

		return showVisits(cmd.Context(), cmd.OutOrStdout(), store, format, limit, protocols)
	},
}

func init() {
	visitsCmd.Flags().IntP("limit", "l", 20, "number of visits to show (0 shows all)")
	visitsCmd.Flags().Bool("protocols", false, "show the number of visits per protocol instead")
	visitsCmd.Flags().StringP("output", "o", "text", "output format: text, json or yaml")

	rootCmd.AddCommand(visitsCmd)
}

func showVisits(ctx context.Context, out io.Writer, store *storage.Store, format string, limit int, protocols bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var data interface{}
	if protocols {
		counts, err := store.ProtocolCounts(ctx)
		if err != nil {
			return err
		}
		data = counts
	} else {
		visits, err := store.Visits(ctx, limit)
		if err != nil {
			return err
		}
		data = visits
	}

	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		if err := encoder.Encode(data); err != nil {
			return err
		}
		return encoder.Close()
	}

	switch data := data.(type) {
	case []storage.ProtocolCount:
		printTask(out, fmt.Sprintf("Visits per protocol (%d protocols)", len(data)))
		for _, count := range data {
			printSubtask(out, fmt.Sprintf("%4d %-24s %d", count.Protocol, protocol.VersionName(count.Protocol), count.Count))
		}
	case []storage.Visit:
		printTask(out, fmt.Sprintf("Latest visits (%d)", len(data)))
		for _, visit := range data {
			line := fmt.Sprintf("%s %-6s %-39s %4d %s", visit.Time.Format("2006-01-02 15:04:05"), visit.Intent,
				visit.IP, visit.Protocol, protocol.VersionName(visit.Protocol))
			if visit.Username != "" {
				line += " " + visit.Username
			}
			printSubtask(out, line)
		}
	}

	return nil
}
