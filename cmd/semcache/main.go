// Package main is the semcache CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/semcache/internal/cli"
	"github.com/hyperjump/semcache/internal/client"
	"github.com/hyperjump/semcache/internal/config"
	"github.com/hyperjump/semcache/internal/coordinator"
	"github.com/hyperjump/semcache/internal/embedding"
	"github.com/hyperjump/semcache/internal/idmap"
	"github.com/hyperjump/semcache/internal/models"
	"github.com/hyperjump/semcache/internal/proxy"
	"github.com/hyperjump/semcache/internal/rebuild"
	"github.com/hyperjump/semcache/internal/server"
	"github.com/hyperjump/semcache/internal/storage"
	"github.com/hyperjump/semcache/internal/vector"
	"github.com/hyperjump/semcache/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/semcache/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "proxy":
		runProxy()
	case "add":
		runAdd()
	case "query":
		runQuery()
	case "rebuild":
		runRebuild()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("semcache version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (adds, queries, rebuilds)")
	watchConfig := fs.Bool("watch-config", true, "reload query threshold and debug setting when the config file changes")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, level, err := utils.NewLeveledLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("backend", cfg.Index.Backend),
	)

	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	sched := rebuild.NewScheduler(components.Coordinator,
		rebuild.WithLogger(logger),
		rebuild.WithMinInterval(cfg.Rebuild.MinInterval),
	)
	srv := server.NewServer(components.Coordinator, sched, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sched.Run(gctx) })
	if *watchConfig {
		w := config.NewWatcher(resolvedConfigPath, func(next *config.Config) {
			srv.SetDefaultThreshold(next.Query.DefaultThreshold())
			utils.SetDebug(level, next.Debug || *debug)
		}, config.WithLogger(logger))
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				logger.Warn("config watcher stopped", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server failed", zap.Error(err))
	}

	// Entries added since the last scheduled rebuild are only saved once built.
	finalCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := components.Coordinator.Rebuild(finalCtx); err != nil {
		logger.Warn("final rebuild failed", zap.Error(err))
	}
	if err := components.SaveSnapshot(finalCtx); err != nil {
		logger.Warn("snapshot save failed", zap.String("path", cfg.Storage.IndexPath), zap.Error(err))
	}
}

func runProxy() {
	fs := flag.NewFlagSet("proxy", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (hits, misses, forwards)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	responses, err := proxy.NewSQLiteResponseStore(cfg.Proxy.ResponsesPath)
	if err != nil {
		logger.Fatal("Failed to open response store", zap.String("path", cfg.Proxy.ResponsesPath), zap.Error(err))
	}
	defer responses.Close()

	cache := proxy.NewCache(client.New(cfg.Proxy.IndexURL, nil), responses, cfg.Proxy.DistanceThreshold, logger)
	p, err := proxy.New(cfg.Proxy.TargetURL, cache,
		proxy.WithHTTPClient(&http.Client{Timeout: cfg.Proxy.UpstreamTimeout}),
		proxy.WithLogger(logger),
		proxy.WithMaxBodyBytes(cfg.Proxy.MaxBodyBytes),
	)
	if err != nil {
		logger.Fatal("Failed to create proxy", zap.Error(err))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Proxy.Host, cfg.Proxy.Port),
		Handler: p.Handler(),
	}
	logger.Info("proxy starting",
		zap.String("config_path", resolvedConfigPath),
		zap.String("addr", srv.Addr),
		zap.String("target", cfg.Proxy.TargetURL),
		zap.String("index", cfg.Proxy.IndexURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down proxy...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("Proxy failed", zap.Error(err))
	}
}

// argsReorder moves any flags (and their values) that appear after the
// positional arguments to the front so that flag.Parse() sees them. Go's
// flag package stops at the first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinText joins all positional args with spaces so multi-word text works
// the same with or without shell quoting.
func joinText(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// configPathFromArgs returns the value of -config/--config from args if present, else defaultPath.
func configPathFromArgs(args []string, defaultPath string) string {
	for i, a := range args {
		if (a == "-config" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultPath
}

// thresholdDefaultFromConfig returns the configured default query threshold,
// or config.DefaultDistanceThreshold when the config cannot be loaded.
func thresholdDefaultFromConfig(path string) float64 {
	cfg, _, err := loadConfig(path)
	if err != nil || cfg == nil {
		return config.DefaultDistanceThreshold
	}
	return cfg.Query.DefaultThreshold()
}

func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func runAdd() {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = add to the local snapshot directly)")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() < 2 {
		fmt.Println("Usage: semcache add [flags] <id> <text>")
		os.Exit(1)
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid id %q: must be an integer\n", fs.Arg(0))
		os.Exit(1)
	}
	text := joinText(fs.Args()[1:])
	ctx := context.Background()

	if *serverURL != "" {
		if err := client.New(*serverURL, nil).AddIndex(ctx, id, text); err != nil {
			fmt.Fprintf(os.Stderr, "Add failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added: %d\n", id)
		return
	}

	components, logger := localComponents(*configPath)
	defer logger.Sync()
	defer components.Close()
	if components.IDs == nil {
		fmt.Fprintln(os.Stderr, "storage.index_path is not configured; nothing to add to")
		os.Exit(1)
	}
	if err := components.Coordinator.Add(ctx, id, text); err != nil {
		fmt.Fprintf(os.Stderr, "Add failed: %v\n", err)
		os.Exit(1)
	}
	if err := components.Coordinator.Rebuild(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
		os.Exit(1)
	}
	if err := components.SaveSnapshot(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Save failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Added: %d\n", id)
}

func runQuery() {
	args := argsReorder(os.Args[2:])
	configPathArg := configPathFromArgs(args, defaultConfigPath)

	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = query the local snapshot directly)")
	threshold := fs.Float64("threshold", thresholdDefaultFromConfig(configPathArg), "maximum distance that counts as a hit")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	text := joinText(fs.Args())
	if text == "" {
		fmt.Println("Usage: semcache query [flags] <text>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx := context.Background()

	var hit *models.QueryResponse
	if *serverURL != "" {
		var th *float64
		if flagWasSet(fs, "threshold") {
			th = threshold
		}
		hit, err = client.New(*serverURL, nil).QueryIndex(ctx, text, th)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		components, logger := localComponents(*configPath)
		defer logger.Sync()
		defer components.Close()
		m, err := components.Coordinator.Query(ctx, text, *threshold)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
			os.Exit(1)
		}
		if m != nil {
			hit = &models.QueryResponse{ID: m.ID, Distance: m.Distance}
		}
	}
	if err := cli.WriteQueryResult(os.Stdout, hit, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[2:])

	if err := client.New(*serverURL, nil).Rebuild(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Rebuild failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Rebuild complete")
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the local snapshot)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var status *models.IndexStatus
	if *serverURL != "" {
		status, err = client.New(*serverURL, nil).Status(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		components, logger := localComponents(*configPath)
		defer logger.Sync()
		defer components.Close()
		status = localStatus(components)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func localStatus(c *Components) *models.IndexStatus {
	st := c.Coordinator.Stats()
	status := &models.IndexStatus{
		Backend:                  st.Backend,
		Dimensions:               st.Index.Dimensions,
		Metric:                   st.Index.Metric,
		Entries:                  st.Index.Entries,
		Queryable:                st.Index.Queryable,
		State:                    st.Index.StateName,
		DefaultDistanceThreshold: c.Config.Query.DefaultThreshold(),
		EmbeddingDimensions:      c.Config.Embedding.Dimensions,
		IndexPath:                c.Config.Storage.IndexPath,
	}
	if c.Config.Storage.IndexPath != "" {
		if usage, err := storage.SnapshotUsage(c.Config.Storage.IndexPath, c.Config.Storage.IDMapPath); err == nil {
			status.DiskUsageBytes = usage.Total()
		}
	}
	return status
}

// localComponents loads config and the local snapshot for commands that run without a server.
func localComponents(configPath string) (*Components, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return components, logger
}

// Components holds initialized services.
type Components struct {
	Config      *config.Config
	Coordinator *coordinator.Coordinator
	IDs         idmap.Store
}

// SaveSnapshot writes the index and identifiers when snapshots are configured.
func (c *Components) SaveSnapshot(ctx context.Context) error {
	if c.IDs == nil {
		return nil
	}
	return c.Coordinator.SaveSnapshot(ctx, c.Config.Storage.IndexPath, c.IDs)
}

func (c *Components) Close() {
	if c.Coordinator != nil {
		_ = c.Coordinator.Close()
	}
	if c.IDs != nil {
		_ = c.IDs.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	store, err := vector.NewStore(vector.Options{
		Backend:    cfg.Index.Backend,
		Dimensions: cfg.Embedding.Dimensions,
		Metric:     cfg.Index.Metric,
		Forest: vector.ForestOptions{
			NumTrees: cfg.Index.NumTrees,
			LeafSize: cfg.Index.LeafSize,
			SearchK:  cfg.Index.SearchK,
			Seed:     cfg.Index.Seed,
		},
	})
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	coord := coordinator.New(store, embedder,
		coordinator.WithLogger(logger),
		coordinator.WithNumTrees(cfg.Index.NumTrees),
	)
	c := &Components{Config: cfg, Coordinator: coord}

	if cfg.Storage.IndexPath == "" {
		return c, nil
	}
	ids, err := idmap.New(cfg.Storage.IDMapBackend, cfg.Storage.IDMapPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open identifier store: %w", err)
	}
	c.IDs = ids
	if err := coord.LoadSnapshot(ctx, cfg.Storage.IndexPath, ids); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return c, nil
}

// newEmbedder builds the configured embedder. An ONNX model that cannot be
// loaded falls back to the mock embedder so the server still starts.
func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	opts := embedding.Options{
		Provider:   cfg.Embedding.Provider,
		Dimensions: cfg.Embedding.Dimensions,
		CacheSize:  cfg.Embedding.CacheSize,
		ModelPath:  cfg.Embedding.ModelPath,
		MaxTokens:  cfg.Embedding.MaxTokens,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
	}
	e, err := embedding.New(opts)
	if err != nil && embedding.Provider(cfg.Embedding.Provider) == embedding.ProviderONNX {
		logger.Warn("ONNX embedder unavailable, using mock embedder", zap.Error(err))
		opts.Provider = string(embedding.ProviderMock)
		return embedding.New(opts)
	}
	return e, err
}

func printUsage() {
	fmt.Println(`semcache - semantic lookup cache index

Usage:
  semcache <command> [flags]

Commands:
  server    Start the index server
  proxy     Start the caching OpenAI-compatible API proxy
  add       Add text under an integer id: semcache add <id> <text>
  query     Look up the nearest stored text: semcache query [-threshold 0.2] <text>
  rebuild   Make every added entry queryable (approximate backend)
  status    Show index status
  version   Show version
  help      Show this help

Run 'semcache <command> -h' for command flags.`)
}
