package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/printguard/internal/control"
	"github.com/vietddude/printguard/internal/printing/service"
)

var recoverCmd = &cobra.Command{
	Use:   "recover ADDRESS",
	Short: "Run the readiness corrections against a printer",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, app *control.App) error {
			res := app.Service().Recover(ctx, args[0])
			if err := resultErr(res); err != nil {
				return err
			}
			return printJSON(res.Data)
		})
	},
}

var (
	darkness  int
	mediaType string
)

var configureCmd = &cobra.Command{
	Use:   "configure ADDRESS",
	Short: "Set print darkness or media type",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, app *control.App) error {
			settings := service.MediaSettings{MediaType: mediaType}
			if cmd.Flags().Changed("darkness") {
				settings.Darkness = &darkness
			}
			if err := resultErr(app.Service().Configure(ctx, args[0], settings)); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		})
	},
}

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs [ADDRESS]",
	Short: "Show recent print jobs from the job log",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, app *control.App) error {
			if app.Jobs() == nil {
				return fmt.Errorf("job log is disabled (persistence.job_log)")
			}
			address := ""
			if len(args) == 1 {
				address = args[0]
			}
			jobs, err := app.Jobs().Recent(ctx, address, jobsLimit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
			_, _ = fmt.Fprintln(w, "JOB\tPRINTER\tFORMAT\tRESULT\tATTEMPTS\tELAPSED\tCORRECTIONS\tAT")
			for _, j := range jobs {
				result := "ok"
				if !j.Success {
					result = string(j.Code)
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					j.JobID, j.Address, j.Format, result, j.Attempts, j.Elapsed,
					strings.Join(j.Corrections, ","), j.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		})
	},
}

func init() {
	configureCmd.Flags().IntVar(&darkness, "darkness", 0, "print tone (-99..200)")
	configureCmd.Flags().StringVar(&mediaType, "media", "", "media type: label, blackmark or journal")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum jobs to show")
	rootCmd.AddCommand(recoverCmd, configureCmd, jobsCmd)
}
