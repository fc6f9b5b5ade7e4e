package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/printguard/internal/control"
	"github.com/vietddude/printguard/internal/printing/service"
)

var (
	printFile      string
	skipCorrection bool
	allowNotReady  bool
)

var printCmd = &cobra.Command{
	Use:   "print ADDRESS",
	Short: "Send a label file to a printer",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withApp(func(ctx context.Context, app *control.App) error {
			data, err := readLabel(printFile)
			if err != nil {
				return err
			}
			res := app.Service().Print(ctx, args[0], data, service.PrintOptions{
				SkipCorrection: skipCorrection,
				AllowNotReady:  allowNotReady,
			})
			if err := resultErr(res); err != nil {
				return err
			}
			return printJSON(res.Data)
		})
	},
}

func init() {
	printCmd.Flags().StringVarP(&printFile, "file", "f", "-", "label file, - for stdin")
	printCmd.Flags().BoolVar(&skipCorrection, "skip-correction", false, "send without the pre-print correction sequence")
	printCmd.Flags().BoolVar(&allowNotReady, "force", false, "send even if the printer reports not ready")
	rootCmd.AddCommand(printCmd)
}

func readLabel(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read label: %w", err)
	}
	return data, nil
}
