// Command keycheck sends a tiny prompt to every configured provider and
// reports whether its credential works.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/pysugar/universal-ai-router/internal/config"
	"github.com/pysugar/universal-ai-router/internal/logging"
	"github.com/pysugar/universal-ai-router/internal/providers/catalog"
	"github.com/pysugar/universal-ai-router/internal/secrets"
	"github.com/pysugar/universal-ai-router/internal/upstream"
	"github.com/pysugar/universal-ai-router/internal/util"
	"github.com/pysugar/universal-ai-router/internal/wiring"
)

const (
	pingPrompt    = "ping"
	pingMaxTokens = 10
)

type result struct {
	provider catalog.ProviderID
	status   string
	detail   string
}

func main() {
	configPath := flag.String("config", os.Getenv("ROUTER_CONFIG"), "path to config.yaml")
	timeout := flag.Duration("timeout", 30*time.Second, "per-provider ping timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}

	ctx := context.Background()
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		logger.Fatalf("Failed to load provider catalog: %v", err)
	}
	sec, err := secrets.New(ctx, cfg.Secrets.Source, cfg.Secrets.Region, cfg.Secrets.Prefix)
	if err != nil {
		logger.Fatalf("Failed to initialize secrets: %v", err)
	}

	built, skipped := wiring.BuildProviders(ctx, cat, sec, upstream.CharEstimator{CharsPerToken: cfg.Router.CharsPerToken})
	results := checkAll(ctx, built, *timeout)
	for _, s := range skipped {
		results = append(results, result{provider: s.Provider, status: "SKIPPED", detail: s.Reason.Error()})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].provider < results[j].provider })

	failed := false
	for _, r := range results {
		fmt.Printf("%-10s %-8s %s\n", r.provider, r.status, r.detail)
		if r.status == "FAIL" {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func checkAll(ctx context.Context, providers []upstream.Provider, timeout time.Duration) []result {
	p := pool.NewWithResults[result]().WithContext(ctx)
	for _, prov := range providers {
		p.Go(func(ctx context.Context) (result, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			res, err := prov.Generate(ctx, upstream.Call{Prompt: pingPrompt, MaxTokens: pingMaxTokens})
			if err != nil {
				return result{provider: prov.ID(), status: "FAIL", detail: util.TruncateLog(err.Error(), 200)}, nil
			}
			return result{
				provider: prov.ID(),
				status:   "OK",
				detail: fmt.Sprintf("%s in %s: %q",
					res.Model, time.Since(start).Round(time.Millisecond), util.TruncateLog(res.Text, 40)),
			}, nil
		})
	}
	results, _ := p.Wait()
	return results
}
