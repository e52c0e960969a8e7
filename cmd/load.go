package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/linkrel/core/concept"
	"github.com/adalundhe/linkrel/core/disambig"
	coreerrors "github.com/adalundhe/linkrel/core/errors"
	"github.com/adalundhe/linkrel/core/graph"
	"github.com/adalundhe/linkrel/core/search"
	"github.com/adalundhe/linkrel/core/store/dump"
)

// LoadDefaultBatchSize is the default number of rows per committed batch.
const LoadDefaultBatchSize = 5000

var (
	loadPages      string
	loadLinks      string
	loadCategories string
	loadBatchSize  int
	loadIndex      bool
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load page, link and category dumps into the store",
	Long: `Load tab-separated dumps into the configured store. Files are read in
the order pages, links, categories; any may be omitted. Malformed rows are
skipped and counted.

  pages:      lang  id  title  namespace  redirect  disambiguation
  links:      lang  source_id  target_id
  categories: lang  category_id  member_id

Rows are committed in batches, so an interrupted load keeps the batches
already written.

Examples:
  linkrel load --pages pages.tsv --links links.tsv --categories cats.tsv
  linkrel load --pages pages.tsv --index`,
	Args: cobra.NoArgs,
	RunE: runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)

	loadCmd.Flags().StringVarP(&loadPages, "pages", "p", "", "Pages dump")
	loadCmd.Flags().StringVarP(&loadLinks, "links", "k", "", "Links dump")
	loadCmd.Flags().StringVarP(&loadCategories, "categories", "a", "", "Category membership dump")
	loadCmd.Flags().IntVarP(&loadBatchSize, "batch-size", "b", LoadDefaultBatchSize, "Rows per committed batch")
	loadCmd.Flags().BoolVar(&loadIndex, "index", false, "Rebuild title indexes after loading")
}

type loadOutput struct {
	Stats    dump.Stats     `json:"stats"`
	Marked   map[string]int `json:"disambiguation_marked,omitempty"`
	Indexed  map[string]int `json:"indexed,omitempty"`
	Duration time.Duration  `json:"duration"`
}

func runLoad(cmd *cobra.Command, args []string) error {
	if loadPages == "" && loadLinks == "" && loadCategories == "" && !loadIndex {
		return coreerrors.InvalidInput("nothing to load: pass --pages, --links, --categories or --index")
	}
	if loadBatchSize < 1 {
		return coreerrors.InvalidInput("--batch-size must be positive")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	start := time.Now()

	store, err := openStore(ctx, app.config, app.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var out loadOutput
	if loadPages != "" || loadLinks != "" || loadCategories != "" {
		stats, err := loadDumps(ctx, store)
		if err != nil {
			return err
		}
		out.Stats = stats
		app.telemetry.RowsLoaded(stats)

		out.Marked, err = markDisambiguation(ctx, store)
		if err != nil {
			return err
		}
	}

	if loadIndex {
		out.Indexed = make(map[string]int)
		for _, lang := range app.config.ParsedLanguages() {
			n, err := rebuildTitleIndex(ctx, store, lang)
			if err != nil {
				return err
			}
			out.Indexed[string(lang)] = n
		}
	}
	out.Duration = time.Since(start)

	if rootJSON {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	printLoad(cmd.OutOrStdout(), out)
	return nil
}

func loadDumps(ctx context.Context, store graph.Store) (dump.Stats, error) {
	loader, err := beginLoad(ctx, store, loadBatchSize)
	if err != nil {
		return dump.Stats{}, err
	}

	rd := dump.NewReader(app.logger)
	steps := []struct {
		path string
		read func(context.Context, io.Reader, dump.Sink) (dump.Stats, error)
	}{
		{loadPages, rd.ReadPages},
		{loadLinks, rd.ReadLinks},
		{loadCategories, rd.ReadCategories},
	}

	var read dump.Stats
	for _, step := range steps {
		if step.path == "" {
			continue
		}
		stats, err := readFile(ctx, step.path, loader, step.read)
		read = read.Add(stats)
		if err != nil {
			if abortErr := loader.Abort(); abortErr != nil {
				app.logger.Warn("abort load", slog.String("error", abortErr.Error()))
			}
			return read, err
		}
	}

	written, err := loader.EndLoad()
	if err != nil {
		return read, err
	}
	written.Skipped = read.Skipped
	return written, nil
}

// markDisambiguation flags the members of each language's disambiguation
// category, so article counts agree with the scoring filter. Languages
// without the category yet are skipped with a warning.
func markDisambiguation(ctx context.Context, store graph.Store) (map[string]int, error) {
	marker, ok := store.(disambig.Marker)
	if !ok {
		return nil, nil
	}
	marked := make(map[string]int)
	for _, lang := range app.config.ParsedLanguages() {
		category := app.config.DisambiguationCategory(lang)
		n, err := disambig.Mark(ctx, lang, category, marker)
		if coreerrors.IsNotFound(err) {
			app.logger.Warn("disambiguation category not loaded",
				slog.String("lang", string(lang)),
				slog.String("category", disambig.CategoryTitle(category)))
			continue
		}
		if err != nil {
			return marked, err
		}
		if n > 0 {
			app.logger.Info("disambiguation pages marked", slog.String("lang", string(lang)), slog.Int("pages", n))
		}
		marked[string(lang)] = n
	}
	return marked, nil
}

func readFile(ctx context.Context, path string, sink dump.Sink, read func(context.Context, io.Reader, dump.Sink) (dump.Stats, error)) (dump.Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return dump.Stats{}, coreerrors.InvalidInput("open dump: %v", err)
	}
	defer f.Close()

	app.logger.Info("reading dump", slog.String("path", path))
	stats, err := read(ctx, f, sink)
	if err != nil {
		return stats, fmt.Errorf("%s: %w", path, err)
	}
	return stats, nil
}

func rebuildTitleIndex(ctx context.Context, store graph.Store, lang concept.Language) (int, error) {
	titles, err := search.OpenTitleIndex(search.TitleIndexConfig{
		Path:      app.config.TitleIndexPath(lang),
		BatchSize: app.config.Search.BatchSize,
	}, app.logger)
	if err != nil {
		return 0, err
	}
	defer titles.Close()
	return titles.Build(ctx, store, lang)
}

func printLoad(w io.Writer, out loadOutput) {
	header(w, "Load")
	fmt.Fprintf(w, "%sPages:%s       %d\n", colorGray, colorReset, out.Stats.Pages)
	fmt.Fprintf(w, "%sLinks:%s       %d\n", colorGray, colorReset, out.Stats.Links)
	fmt.Fprintf(w, "%sCategories:%s  %d\n", colorGray, colorReset, out.Stats.CategoryMembers)
	for lang, n := range out.Marked {
		fmt.Fprintf(w, "%sMarked %s:%s   %d disambiguation pages\n", colorGray, lang, colorReset, n)
	}
	if out.Stats.Skipped > 0 {
		fmt.Fprintf(w, "%sSkipped:%s     %s%d%s\n", colorGray, colorReset, colorYellow, out.Stats.Skipped, colorReset)
	}
	for lang, n := range out.Indexed {
		fmt.Fprintf(w, "%sIndexed %s:%s  %d titles\n", colorGray, lang, colorReset, n)
	}
	fmt.Fprintf(w, "%sDuration:%s    %s\n", colorGray, colorReset, out.Duration.Round(time.Millisecond))
}
