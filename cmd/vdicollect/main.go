package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"vdicollect/internal/analysis"
	"vdicollect/internal/config"
	"vdicollect/internal/generator"
	"vdicollect/internal/graph"
	"vdicollect/internal/logging"
	"vdicollect/internal/pipeline"
	"vdicollect/internal/report"
	"vdicollect/internal/rest"
	"vdicollect/internal/retrieval"
	"vdicollect/internal/server"
	"vdicollect/internal/storage"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "vdicollect",
		Short: "Inventory collector for VDI connection servers",
	}
	configPath string
	dbPath     string

	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Path to the snapshot database (SQLite); overrides storage.db_path")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(definitionCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(impactCmd)
	rootCmd.AddCommand(serveCmd)
}

// setup loads the config and builds the logger every command uses.
func setup() (*config.Config, *slog.Logger) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	slog.SetDefault(logger)
	return cfg, logger
}

func initStore(cfg *config.Config) *storage.SQLiteStore {
	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database %s: %v", cfg.Storage.DBPath, err)
	}
	return store
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// collectOnce logs in, runs a collection and persists it.
func collectOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger, store storage.Store) (*pipeline.Result, error) {
	coll, err := pipeline.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	res := coll.Run(ctx)
	err = res.Save(ctx, pipeline.Outputs{
		Store:      store,
		ResultPath: cfg.Output.ResultPath,
		ReportPath: cfg.Output.ReportPath,
	})
	return res, err
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect the inventory once and store the snapshot, result and report",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, logger := setup()
		ctx, stop := signalContext()
		defer stop()

		store := initStore(cfg)
		defer store.Close()

		fmt.Printf("Collecting from %s\n", cfg.BaseURL())
		start := time.Now()
		res, err := collectOnce(ctx, cfg, logger, store)
		if res == nil {
			log.Fatalf("Collection failed: %v", err)
		}

		counts := res.Graph.Counts()
		for _, kind := range graph.Kinds {
			fmt.Printf("  %-24s %d\n", kind, counts[kind])
		}
		fmt.Printf("  edges %d, unresolved references %d\n", len(res.Graph.Edges), len(res.Graph.Unresolved))

		switch res.Status() {
		case report.StatusOK:
			fmt.Printf("%s run %s in %v\n", green("collected"), res.RunID, time.Since(start).Round(time.Millisecond))
		case report.StatusPartial:
			fmt.Printf("%s run %s with %d errors\n", yellow("partial"), res.RunID, len(res.Errors))
			for _, e := range res.Errors {
				fmt.Printf("  - %v\n", e)
			}
		case report.StatusFailed:
			fmt.Printf("%s run %s\n", red("failed"), res.RunID)
			for _, e := range res.Errors {
				fmt.Printf("  - %v\n", e)
			}
		}
		if err != nil {
			log.Fatalf("Failed to save outputs: %v", err)
		}
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that the connection server accepts the configured credentials",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, logger := setup()
		if err := cfg.Validate(); err != nil {
			log.Fatalf("%v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
		defer cancel()

		client := pipeline.NewClient(cfg, logger)
		_, err := rest.Login(ctx, client, rest.Credentials{
			Username: cfg.Credentials.Username,
			Password: cfg.Credentials.Password,
			Domain:   cfg.Credentials.Domain,
		})
		if err != nil {
			fmt.Printf("%s %s: %v\n", red("FAIL"), client.BaseURL(), err)
			os.Exit(1)
		}
		fmt.Printf("%s %s\n", green("OK"), client.BaseURL())
	},
}

var definitionCmd = &cobra.Command{
	Use:   "definition",
	Short: "Print the object type definition as JSON",
	Run: func(cmd *cobra.Command, args []string) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(generator.BuildDefinition()); err != nil {
			log.Fatalf("Failed to encode definition: %v", err)
		}
	},
}

var (
	showHops    int
	showMermaid bool
	showDown    bool
)

var showCmd = &cobra.Command{
	Use:   "show [entity]",
	Short: "Show stored entities and their neighbourhood (kind/id, id or name)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := setup()
		store := initStore(cfg)
		defer store.Close()

		ctx := context.Background()
		g, err := store.LoadGraph(ctx)
		if err != nil {
			log.Fatalf("Failed to load snapshot: %v", err)
		}

		if len(args) == 0 {
			counts := g.Counts()
			for _, kind := range graph.Kinds {
				fmt.Printf("%-24s %d\n", kind, counts[kind])
			}
			if showMermaid {
				fmt.Print((&generator.MermaidGenerator{MaxNodes: 200}).GenerateInventoryDiagram(g))
			}
			return
		}

		seeds := retrieval.FindSeeds(g, args[0])
		if len(seeds) == 0 {
			fmt.Printf("No entity matches %q\n", args[0])
			os.Exit(1)
		}
		rc := retrieval.DefaultConfig()
		rc.MaxHops = showHops
		if showDown {
			rc.Direction = retrieval.Down
		}
		sg := retrieval.Extract(g, seeds, rc)
		if showMermaid {
			fmt.Print((&generator.MermaidGenerator{}).GenerateInventoryDiagram(sg.Graph(g)))
			return
		}
		for _, ref := range sg.Refs {
			e, _ := g.Get(ref)
			indent := strings.Repeat("  ", sg.Depth[ref])
			fmt.Printf("%s%s %q\n", indent, ref, e.Name)
			for _, k := range sortedKeys(e.Properties) {
				fmt.Printf("%s    %s = %s\n", indent, k, e.Properties[k])
			}
			for _, k := range sortedKeys(e.Metrics) {
				fmt.Printf("%s    %s = %g\n", indent, k, e.Metrics[k])
			}
		}
	},
}

var impactCmd = &cobra.Command{
	Use:   "impact [entity...]",
	Short: "List what is affected by the given entities, or by unavailable ones when none are given",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _ := setup()
		store := initStore(cfg)
		defer store.Close()

		g, err := store.LoadGraph(context.Background())
		if err != nil {
			log.Fatalf("Failed to load snapshot: %v", err)
		}

		var refs []graph.Ref
		for _, a := range args {
			refs = append(refs, retrieval.FindSeeds(g, a)...)
		}
		if len(args) == 0 {
			refs = analysis.Unavailable(g)
		}
		if len(refs) == 0 {
			fmt.Println(green("Nothing affected."))
			return
		}

		impact := analysis.NewAnalyzer(g).AnalyzeImpact(refs)
		fmt.Printf("%s %d directly affected\n", red("!"), len(impact.DirectlyAffected))
		for _, e := range impact.DirectlyAffected {
			fmt.Printf("  %s %q\n", e.Ref(), e.Name)
		}
		fmt.Printf("%s %d indirectly affected\n", yellow("!"), len(impact.IndirectlyAffected))
		for _, e := range impact.IndirectlyAffected {
			fmt.Printf("  %s %q\n", e.Ref(), e.Name)
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Collect on an interval and serve inventory, report and metrics over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, logger := setup()
		if err := cfg.Validate(); err != nil {
			log.Fatalf("%v", err)
		}
		ctx, stop := signalContext()
		defer stop()

		store := initStore(cfg)
		defer store.Close()

		var prev *graph.Graph
		if g, err := store.LoadGraph(ctx); err == nil {
			prev = g
		}
		srv := server.New(func(ctx context.Context) (*pipeline.Result, error) {
			res, err := collectOnce(ctx, cfg, logger, store)
			if res != nil && prev != nil {
				changes := analysis.Diff(prev, res.Graph)
				logger.Info("inventory changes", "added", len(changes.Added), "removed", len(changes.Removed), "changed", len(changes.Changed))
			}
			if res != nil {
				prev = res.Graph
			}
			return res, err
		}, cfg.Serve.Interval, logger)

		httpSrv := &http.Server{
			Addr:              cfg.Serve.Listen,
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go srv.Loop(ctx)
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		logger.Info("serving", "listen", cfg.Serve.Listen, "interval", cfg.Serve.Interval)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	},
}

func init() {
	showCmd.Flags().IntVar(&showHops, "hops", 2, "Number of edges to follow from the matched entities")
	showCmd.Flags().BoolVar(&showMermaid, "mermaid", false, "Print a mermaid diagram instead of a listing")
	showCmd.Flags().BoolVar(&showDown, "down", false, "Only follow parent -> child edges")
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
