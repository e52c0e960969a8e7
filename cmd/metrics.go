package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/adalundhe/linkrel/core/engine"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "List configured metrics and whether they are usable",
	Long: `Build every configured metric for every configured language and report
which are ready. A metric that failed to build shows the reason, usually a
missing disambiguation category or an empty store.`,
	Args: cobra.NoArgs,
	RunE: runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}

type metricsOutput struct {
	Default string                `json:"default"`
	Status  []engine.MetricStatus `json:"status"`
}

func runMetrics(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	return withEngine(ctx, func(e *engine.Engine) error {
		out := metricsOutput{Default: e.DefaultMetric(), Status: e.Status()}
		if rootJSON {
			return writeJSON(cmd.OutOrStdout(), out)
		}
		printMetrics(cmd.OutOrStdout(), out)
		return nil
	})
}

func printMetrics(w io.Writer, out metricsOutput) {
	header(w, "Metrics")
	for _, st := range out.Status {
		marker := " "
		if st.Metric == out.Default {
			marker = "*"
		}
		state := colorGreen + "ready" + colorReset
		if !st.Ready {
			state = colorRed + "unavailable" + colorReset
		}
		fmt.Fprintf(w, "%s %-16s %-6s %s\n", marker, st.Metric, st.Language, state)
		if st.Error != "" {
			fmt.Fprintf(w, "    %s%s%s\n", colorGray, st.Error, colorReset)
		}
	}
}
