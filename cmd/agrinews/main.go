package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/AgriNews/internal/collect"
	"github.com/TobiSchelling/AgriNews/internal/config"
	"github.com/TobiSchelling/AgriNews/internal/database"
	"github.com/TobiSchelling/AgriNews/internal/digest"
	"github.com/TobiSchelling/AgriNews/internal/logging"
	"github.com/TobiSchelling/AgriNews/internal/pipeline"
	"github.com/TobiSchelling/AgriNews/internal/query"
	"github.com/TobiSchelling/AgriNews/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "agrinews",
	Short:   "Agricultural technology news feed",
	Long:    "AgriNews collects agricultural technology news from RSS feeds, ranks it by keyword relevance and serves it as a JSON feed.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		logger.Debug("config loaded", zap.String("path", path))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(digestCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("agrinews", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/agrinews/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure feeds, keywords and the daily schedule.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and scheduler status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.svc.Stats(ctx)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", a.db.Path())
		printStats(cmd.OutOrStdout(), stats)

		st := a.svc.Status()
		next := a.orch.NextRun(time.Now())
		fmt.Println("\nSchedule:")
		fmt.Printf("  Daily at %s (%s)\n", st.ScheduleTime, st.Timezone)
		fmt.Printf("  Next run: %s\n", next.Format("2006-01-02 15:04 MST"))

		runs, err := a.svc.Runs(ctx, 5)
		if err != nil {
			return fmt.Errorf("getting runs: %w", err)
		}
		if len(runs) > 0 {
			fmt.Println("\nRecent runs:")
			for _, r := range runs {
				fmt.Printf("  %s  found %d, added %d  %s\n", r.FetchTime, r.ArticlesFound, r.ArticlesAdded, r.Status)
			}
		}
		return nil
	},
}

func printStats(w io.Writer, stats database.Stats) {
	fmt.Fprintln(w, "Articles:")
	fmt.Fprintf(w, "  Total: %d\n", stats.TotalArticles)
	fmt.Fprintf(w, "  Last 24 hours: %d\n", stats.RecentArticles)
	fmt.Fprintf(w, "  Average relevance: %.2f\n", stats.AvgRelevanceScore)
	if len(stats.ArticlesByCategory) > 0 {
		fmt.Fprintln(w, "\nBy category:")
		for _, c := range sortedKeys(stats.ArticlesByCategory) {
			fmt.Fprintf(w, "  %s: %d\n", c, stats.ArticlesByCategory[c])
		}
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- run command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one update: fetch -> filter -> extract -> rank -> store -> purge",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.orch.TriggerManual(ctx)
		if err != nil {
			return err
		}
		printResult(cmd.OutOrStdout(), result)
		if !result.OK() {
			return result.Err
		}
		fmt.Println("\nUpdate complete! Run 'agrinews serve' to browse the feed.")
		return nil
	},
}

func printResult(w io.Writer, result *pipeline.Result) {
	for i, step := range result.Steps {
		fmt.Fprintf(w, "\nStep %d: %s\n", i+1, step.Name)
		if step.Err != nil {
			fmt.Fprintf(w, "  Error: %v\n", step.Err)
		} else {
			fmt.Fprintf(w, "  %s\n", step.Summary)
		}
	}
	if !result.OK() {
		fmt.Fprintf(w, "\nRun aborted: %v\n", result.Err)
		return
	}
	fmt.Fprintf(w, "\nFound %d, relevant %d, added %d, purged %d (%s)\n",
		result.Found, result.Relevant, result.Added, result.Purged,
		result.Finished.Sub(result.Started).Round(time.Second))
}

// --- serve command ---

var (
	servePort int
	runNow    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON API and the daily scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		// A scheduled run still in flight finishes before the database closes.
		defer a.orch.Wait()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		a.orch.Start(ctx)
		defer a.orch.Stop()

		// An in-flight initial update finishes before the database closes.
		var wg sync.WaitGroup
		defer wg.Wait()
		if runNow {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res := a.svc.Update(ctx)
				logger.Info("initial update finished",
					zap.String("status", res.Status),
					zap.Int("added", res.Added),
					zap.String("message", res.Message))
			}()
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, server.New(a.svc, logger.Named("server")).Handler(), port, logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to run server on (overrides config)")
	serveCmd.Flags().BoolVar(&runNow, "run-now", false, "Run one update immediately after startup")
}

// --- search command ---

var searchCmd = &cobra.Command{
	Use:   "search [words...]",
	Short: "Search stored articles",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		svc := query.New(db, nil, nil, logger.Named("query"))
		articles, err := svc.Search(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}

		if len(articles) == 0 {
			fmt.Println("No matching articles.")
			return nil
		}
		for _, a := range articles {
			fmt.Printf("[%.2f] %s\n", a.RelevanceScore, a.Title)
			fmt.Printf("       %s (%s)\n", a.URL, a.Source)
		}
		return nil
	},
}

// --- sources command ---

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Check that every configured source is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		checker := collect.NewChecker(a.client, logger.Named("sources"))
		active := 0
		for _, st := range checker.CheckSources(ctx, cfg.Sources) {
			if err := a.db.UpdateSourceStatus(ctx, st.Name, st.Status, st.Error); err != nil {
				logger.Warn("recording source status failed", zap.String("source", st.Name), zap.Error(err))
			}
			if st.Status == collect.StatusActive {
				active++
			}

			line := fmt.Sprintf("  %-8s %s", st.Status, st.Name)
			if st.Error != "" {
				line += "  (" + st.Error + ")"
			}
			fmt.Println(line)
		}
		fmt.Printf("\n%d of %d sources active\n", active, len(cfg.Sources))
		return nil
	},
}

// --- digest command ---

var (
	digestDays      int
	digestLimit     int
	digestRelevance float64
	digestHTML      bool
	digestOutput    string
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Export the top recent articles as markdown or HTML",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		articles, err := db.List(ctx, database.ArticleFilter{
			DaysBack:     digestDays,
			MinRelevance: digestRelevance,
			Limit:        digestLimit,
		})
		if err != nil {
			return err
		}

		d := digest.Digest{
			Title:     fmt.Sprintf("AgriNews: last %d days", digestDays),
			Generated: time.Now(),
			Articles:  articles,
		}

		var out io.Writer = cmd.OutOrStdout()
		if digestOutput != "" {
			f, err := os.Create(digestOutput)
			if err != nil {
				return fmt.Errorf("creating digest file: %w", err)
			}
			defer f.Close()
			out = f
		}

		if digestHTML {
			return digest.HTML(out, d)
		}
		return digest.Markdown(out, d)
	},
}

func init() {
	digestCmd.Flags().IntVar(&digestDays, "days", 7, "Include articles stored in the last N days")
	digestCmd.Flags().IntVar(&digestLimit, "limit", 20, "Maximum number of articles")
	digestCmd.Flags().Float64Var(&digestRelevance, "min-relevance", query.DefaultMinRelevance, "Minimum relevance score")
	digestCmd.Flags().BoolVar(&digestHTML, "html", false, "Render HTML instead of markdown")
	digestCmd.Flags().StringVarP(&digestOutput, "output", "o", "", "Write to file instead of stdout")
}
