package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"patentbatch/internal/inputs"
	"patentbatch/internal/router"
	"patentbatch/internal/services"
)

func newRecommendCommand(ctx *commandContext) *cobra.Command {
	var inputsPath string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "recommend [count]",
		Short: "Recommend async or batch mode for an input count",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var count int
			switch {
			case len(args) == 1:
				n, err := strconv.Atoi(strings.TrimSpace(args[0]))
				if err != nil || n < 0 {
					return services.Wrap(services.ErrValidation, "cli", "recommend", fmt.Sprintf("invalid count %q", args[0]), nil)
				}
				count = n
			case inputsPath != "":
				loaded, err := inputs.LoadFile(inputsPath, inputs.Options{})
				if err != nil {
					return err
				}
				count = len(loaded)
			default:
				return services.Wrap(services.ErrValidation, "cli", "recommend", "pass a count or --inputs", nil)
			}

			rec := router.SettingsFromConfig(cfg).Recommend(count)
			if jsonOutput {
				return writeJSON(cmd, struct {
					router.Recommendation
					EstimateSeconds int `json:"estimate_seconds"`
				}{rec, int(rec.Estimate.Seconds())})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recommended mode: %s\n", rec.Mode)
			fmt.Fprintf(out, "Reason: %s\n", rec.Reason)
			fmt.Fprintf(out, "Estimated duration: %s\n", rec.Estimate)
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputsPath, "inputs", "i", "", "Count the inputs in this file")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")
	return cmd
}
