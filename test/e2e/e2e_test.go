package e2e

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/client"
	"github.com/hyperjump/semcache/internal/config"
	"github.com/hyperjump/semcache/internal/coordinator"
	"github.com/hyperjump/semcache/internal/embedding"
	"github.com/hyperjump/semcache/internal/idmap"
	"github.com/hyperjump/semcache/internal/proxy"
	"github.com/hyperjump/semcache/internal/rebuild"
	"github.com/hyperjump/semcache/internal/server"
	"github.com/hyperjump/semcache/internal/vector"
)

const e2eDimensions = 64

type node struct {
	cfg       *config.Config
	coord     *coordinator.Coordinator
	scheduler *rebuild.Scheduler
	ids       idmap.Store
	client    *client.IndexClient
	stop      func()
}

// startNode builds the full stack behind an httptest server and loads any existing snapshot.
func startNode(t *testing.T, cfg *config.Config) *node {
	t.Helper()
	logger := zap.NewNop()
	embedder, err := embedding.New(embedding.Options{
		Provider:   cfg.Embedding.Provider,
		Dimensions: cfg.Embedding.Dimensions,
		CacheSize:  cfg.Embedding.CacheSize,
	})
	if err != nil {
		t.Fatal(err)
	}
	store, err := vector.NewStore(vector.Options{
		Backend:    cfg.Index.Backend,
		Dimensions: cfg.Embedding.Dimensions,
		Metric:     cfg.Index.Metric,
		Forest:     vector.ForestOptions{LeafSize: cfg.Index.LeafSize, Seed: cfg.Index.Seed},
	})
	if err != nil {
		t.Fatal(err)
	}
	coord := coordinator.New(store, embedder,
		coordinator.WithLogger(logger),
		coordinator.WithNumTrees(cfg.Index.NumTrees),
	)
	ids, err := idmap.New(cfg.Storage.IDMapBackend, cfg.Storage.IDMapPath)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := coord.LoadSnapshot(ctx, cfg.Storage.IndexPath, ids); err != nil {
		t.Fatal(err)
	}

	sched := rebuild.NewScheduler(coord, rebuild.WithLogger(logger))
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = sched.Run(runCtx)
		close(done)
	}()
	srv := server.NewServer(coord, sched, cfg, logger)
	ts := httptest.NewServer(srv.Handler())

	n := &node{
		cfg:       cfg,
		coord:     coord,
		scheduler: sched,
		ids:       ids,
		client:    client.New(ts.URL, ts.Client()),
	}
	stopped := false
	n.stop = func() {
		if stopped {
			return
		}
		stopped = true
		ts.Close()
		cancel()
		<-done
		_ = coord.Close()
		_ = ids.Close()
	}
	t.Cleanup(n.stop)
	return n
}

func newConfig(t *testing.T, backend, idmapBackend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimensions = e2eDimensions
	cfg.Embedding.CacheSize = 500
	cfg.Index.Backend = backend
	cfg.Index.LeafSize = 4
	cfg.Index.Seed = 11
	cfg.Storage.IndexPath = filepath.Join(dir, "index.bin.zst")
	cfg.Storage.IDMapBackend = idmapBackend
	config.ApplyDefaults(cfg)
	return cfg
}

func runCases(t *testing.T, n *node, corpus *Corpus) {
	t.Helper()
	ctx := context.Background()
	for _, tc := range corpus.TestCases {
		t.Run(tc.Description, func(t *testing.T) {
			hit, err := n.client.QueryIndex(ctx, tc.Query, nil)
			if err != nil {
				t.Fatalf("query failed: %v", err)
			}
			if tc.Miss {
				if hit != nil {
					t.Errorf("query %q: expected miss, got %+v", tc.Query, hit)
				}
				return
			}
			if hit == nil || hit.ID != tc.ExpectedID || hit.Distance > 1e-6 {
				t.Errorf("query %q: expected id %d, got %+v", tc.Query, tc.ExpectedID, hit)
			}
		})
	}
}

func TestE2E_QueryResolvesStoredPrompts(t *testing.T) {
	for _, backend := range []string{"exact", "approximate"} {
		t.Run(backend, func(t *testing.T) {
			n := startNode(t, newConfig(t, backend, "sqlite"))
			ctx := context.Background()
			corpus := BuildCorpus()
			for _, e := range corpus.Entries {
				if err := n.client.AddIndex(ctx, e.ID, e.Context); err != nil {
					t.Fatalf("add %d: %v", e.ID, err)
				}
			}
			flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := n.scheduler.Flush(flushCtx); err != nil {
				t.Fatal(err)
			}

			t.Logf("added %d entries; running %d query test cases", corpus.TotalEntries, corpus.TotalQueries)
			runCases(t, n, corpus)

			st, err := n.client.Status(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if st.Entries != corpus.TotalEntries || st.Queryable != corpus.TotalEntries {
				t.Errorf("status = %+v", st)
			}
		})
	}
}

func TestE2E_SnapshotSurvivesRestart(t *testing.T) {
	for _, idmapBackend := range []string{"sqlite", "file"} {
		t.Run(idmapBackend, func(t *testing.T) {
			cfg := newConfig(t, "approximate", idmapBackend)
			ctx := context.Background()
			corpus := BuildCorpus()

			first := startNode(t, cfg)
			for _, e := range corpus.Entries {
				if err := first.client.AddIndex(ctx, e.ID, e.Context); err != nil {
					t.Fatal(err)
				}
			}
			if err := first.client.Rebuild(ctx); err != nil {
				t.Fatal(err)
			}
			if err := first.coord.SaveSnapshot(ctx, cfg.Storage.IndexPath, first.ids); err != nil {
				t.Fatal(err)
			}
			first.stop()

			second := startNode(t, cfg)
			st, err := second.client.Status(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if st.Entries != corpus.TotalEntries || st.State != "built" || st.DiskUsageBytes <= 0 {
				t.Fatalf("restored status = %+v", st)
			}
			runCases(t, second, corpus)
		})
	}
}

func TestE2E_ProxyServesRepeatedPrompt(t *testing.T) {
	n := startNode(t, newConfig(t, "exact", "sqlite"))

	var upstreamCalls atomic.Int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Paris"}}]}`)
	}))
	defer upstream.Close()

	responses, err := proxy.NewSQLiteResponseStore(filepath.Join(t.TempDir(), "responses.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer responses.Close()
	p, err := proxy.New(upstream.URL+"/v1", proxy.NewCache(n.client, responses, nil, zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	ps := httptest.NewServer(p.Handler())
	defer ps.Close()

	body := `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"What is the capital of France?"}]}`
	for i, want := range []string{"miss", "hit"} {
		resp, err := ps.Client().Post(ps.URL+"/chat/completions", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		got, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || resp.Header.Get(proxy.CacheHeader) != want {
			t.Fatalf("request %d: %d %s", i, resp.StatusCode, resp.Header.Get(proxy.CacheHeader))
		}
		if !strings.Contains(string(got), "Paris") {
			t.Errorf("request %d: body %s", i, got)
		}
	}
	if c := upstreamCalls.Load(); c != 1 {
		t.Errorf("upstream called %d times, want 1", c)
	}
	st, err := n.client.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.Entries != 1 {
		t.Errorf("status = %+v", st)
	}
}
