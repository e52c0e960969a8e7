package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/adalundhe/linkrel/core/engine"
	"github.com/adalundhe/linkrel/core/sr"
)

var (
	similarityMetric  string
	similarityExplain bool
)

var similarityCmd = &cobra.Command{
	Use:   "similarity <a> <b>",
	Short: "Score the relatedness of two articles",
	Long: `Score how related article b is to article a. Articles are given as a
page id, a lang:id pair or an exact title.

Scores are directional for metrics that use link distance, so swapping the
arguments may change the result. An "invalid" result means no relation could
be computed, for example because an article is a disambiguation page.

Examples:
  linkrel similarity Apple Banana
  linkrel similarity --metric synrank --explain 1 en:3
  linkrel similarity --json "Apple Inc." Microsoft`,
	Args: cobra.ExactArgs(2),
	RunE: runSimilarity,
}

func init() {
	rootCmd.AddCommand(similarityCmd)

	similarityCmd.Flags().StringVarP(&similarityMetric, "metric", "m", "", "Metric name (default: configured default)")
	similarityCmd.Flags().BoolVarP(&similarityExplain, "explain", "e", false, "Show the terms behind the score")
}

type similarityOutput struct {
	engine.Similarity
	Explanation *sr.Explanation `json:"explanation,omitempty"`

	// NoExplanation is set when --explain was asked of a metric that cannot
	// explain its scores.
	NoExplanation bool `json:"no_explanation,omitempty"`
}

func runSimilarity(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	lang, err := language(app.config)
	if err != nil {
		return err
	}

	return withEngine(ctx, func(e *engine.Engine) error {
		var out similarityOutput
		if similarityExplain {
			sim, ex, err := e.ExplainSimilarity(ctx, lang, similarityMetric, args[0], args[1])
			if err != nil {
				return err
			}
			out = similarityOutput{Similarity: sim, Explanation: ex, NoExplanation: ex == nil}
		} else {
			sim, err := e.Similarity(ctx, lang, similarityMetric, args[0], args[1])
			if err != nil {
				return err
			}
			out = similarityOutput{Similarity: sim}
		}

		if rootJSON {
			return writeJSON(cmd.OutOrStdout(), out)
		}
		printSimilarity(cmd.OutOrStdout(), out)
		return nil
	})
}

func printSimilarity(w io.Writer, out similarityOutput) {
	header(w, fmt.Sprintf("%s  %s -> %s", out.Metric, out.A, out.B))
	if out.Result.Valid {
		fmt.Fprintf(w, "%sScore:%s %s%s%s\n", colorGray, colorReset, colorGreen, out.Result, colorReset)
	} else {
		fmt.Fprintf(w, "%sScore:%s %sinvalid%s\n", colorGray, colorReset, colorYellow, colorReset)
	}

	if out.NoExplanation {
		fmt.Fprintf(w, "%s%s does not explain its scores.%s\n", colorGray, out.Metric, colorReset)
	}
	if out.Explanation == nil {
		return
	}
	if out.Explanation.Reason != "" {
		fmt.Fprintf(w, "%sReason:%s %s\n", colorGray, colorReset, out.Explanation.Reason)
	}
	names := make([]string, 0, len(out.Explanation.Terms))
	for name := range out.Explanation.Terms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s%-10s%s %.6f\n", colorGray, name, colorReset, out.Explanation.Terms[name])
	}
}
