package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/printguard/internal/control"
	"github.com/vietddude/printguard/internal/core/domain"
	"github.com/vietddude/printguard/internal/printing/readiness"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status ADDRESS",
	Short: "Show the readiness of a printer",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, app *control.App) error {
			res := app.Service().Status(ctx, args[0])
			if err := resultErr(res); err != nil {
				return err
			}
			if statusJSON {
				return printJSON(res.Data)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
			_, _ = fmt.Fprintf(w, "PRINTER\t%s\n", res.Data.Address)
			_, _ = fmt.Fprintf(w, "READY\t%t\n", res.Data.Ready)
			r := res.Data.Readiness
			for _, row := range []struct {
				name  string
				field readiness.FieldReport
			}{
				{"CONNECTED", r.Connection},
				{"MEDIA", r.Media},
				{"HEAD CLOSED", r.Head},
				{"PAUSED", r.Pause},
				{"ERRORS", r.Errors},
				{"LANGUAGE", r.Language},
			} {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", row.name, row.field.Value, row.field.Raw)
			}
			return w.Flush()
		})
	},
}

var discoverRefresh bool

var discoverCmd = &cobra.Command{
	Use:   "discover [TRANSPORT]",
	Short: "List configured printers that are reachable",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, app *control.App) error {
			opts := discoveryOptions(args, discoverRefresh)
			res := app.Service().Discover(ctx, opts)
			if err := resultErr(res); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
			_, _ = fmt.Fprintln(w, "NAME\tADDRESS\tTRANSPORT\tMODEL")
			for _, d := range res.Data {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.Address, d.Transport, d.Model)
			}
			return w.Flush()
		})
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the full report as JSON")
	discoverCmd.Flags().BoolVar(&discoverRefresh, "refresh", false, "ignore the discovery cache")
	rootCmd.AddCommand(statusCmd, discoverCmd)
}

func discoveryOptions(args []string, refresh bool) domain.DiscoveryOptions {
	opts := domain.DiscoveryOptions{Refresh: refresh}
	if len(args) == 1 {
		opts.Transport = domain.Transport(args[0])
	}
	return opts
}
