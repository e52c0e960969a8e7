package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adalundhe/linkrel/core/concept"
	"github.com/adalundhe/linkrel/core/engine"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
)

// MostSimilarMaxK bounds --k.
const MostSimilarMaxK = 1000

var (
	mostSimilarMetric   string
	mostSimilarK        int
	mostSimilarText     bool
	mostSimilarRestrict []string
	mostSimilarGlob     []string
)

var mostSimilarCmd = &cobra.Command{
	Use:   "most-similar <query>",
	Short: "Rank the articles most related to a query",
	Long: `Rank the articles most related to a query article, or to free text
with --text. Without a candidate restriction the metric chooses its own
candidates; metrics that cannot (synrank) need --restrict or --restrict-glob.

Examples:
  linkrel most-similar Apple
  linkrel most-similar --text "apple fruit" -k 20
  linkrel most-similar --metric synrank --restrict-glob "B*" Apple
  linkrel most-similar --restrict 3,4,17 en:1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMostSimilar,
}

func init() {
	rootCmd.AddCommand(mostSimilarCmd)

	mostSimilarCmd.Flags().StringVarP(&mostSimilarMetric, "metric", "m", "", "Metric name (default: configured default)")
	mostSimilarCmd.Flags().IntVarP(&mostSimilarK, "k", "k", 0, "Number of results (default: configured default_k)")
	mostSimilarCmd.Flags().BoolVarP(&mostSimilarText, "text", "t", false, "Treat the query as free text")
	mostSimilarCmd.Flags().StringSliceVar(&mostSimilarRestrict, "restrict", nil, "Only rank these page ids")
	mostSimilarCmd.Flags().StringSliceVarP(&mostSimilarGlob, "restrict-glob", "g", nil, "Only rank articles whose title matches a pattern")
}

type mostSimilarOutput struct {
	Metric  string         `json:"metric"`
	Query   string         `json:"query"`
	Matches []engine.Match `json:"matches"`
}

func runMostSimilar(cmd *cobra.Command, args []string) error {
	if mostSimilarK < 0 || mostSimilarK > MostSimilarMaxK {
		return coreerrors.InvalidInput("--k must be between 1 and %d", MostSimilarMaxK)
	}
	restrict, err := parseRestrict(mostSimilarRestrict)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	lang, err := language(app.config)
	if err != nil {
		return err
	}

	req := engine.MostSimilarRequest{
		Lang:         lang,
		Metric:       mostSimilarMetric,
		Query:        strings.Join(args, " "),
		Text:         mostSimilarText,
		K:            mostSimilarK,
		Restrict:     restrict,
		RestrictGlob: mostSimilarGlob,
	}

	return withEngine(ctx, func(e *engine.Engine) error {
		matches, err := e.MostSimilar(ctx, req)
		if err != nil {
			return err
		}
		metric := req.Metric
		if metric == "" {
			metric = e.DefaultMetric()
		}
		out := mostSimilarOutput{Metric: metric, Query: req.Query, Matches: matches}

		if rootJSON {
			return writeJSON(cmd.OutOrStdout(), out)
		}
		printMostSimilar(cmd.OutOrStdout(), out)
		return nil
	})
}

// parseRestrict turns --restrict values into a candidate set. No values
// means no restriction.
func parseRestrict(values []string) (*concept.IDSet, error) {
	if len(values) == 0 {
		return nil, nil
	}
	ids := make([]concept.LocalID, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, coreerrors.InvalidInput("--restrict: %q is not a page id", v)
		}
		ids = append(ids, concept.LocalID(id))
	}
	set := concept.NewIDSet(ids...)
	return &set, nil
}

func printMostSimilar(w io.Writer, out mostSimilarOutput) {
	header(w, fmt.Sprintf("%s  %q", out.Metric, out.Query))
	if len(out.Matches) == 0 {
		fmt.Fprintf(w, "%sNo related articles found.%s\n", colorYellow, colorReset)
		return
	}
	for i, m := range out.Matches {
		title := m.Title
		if title == "" {
			title = colorGray + "(untitled)" + colorReset
		}
		fmt.Fprintf(w, "%3d. %s%-40s%s %s%10d%s  %.6f\n",
			i+1, colorBold, title, colorReset, colorGray, m.ConceptID, colorReset, m.Score)
	}
}
