package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"slowburn/pkg/audio"
	"slowburn/pkg/speech"
	"slowburn/pkg/story"
)

// WarmReport counts the outcome of a warm run.
type WarmReport struct {
	Total       int
	Cached      int64
	Synthesized int64
	Failed      int64
	Elapsed     time.Duration
}

func newWarmCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Synthesize every line of the episode into the persistent cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs, err := initCore(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer svcs.Close()

			if workers <= 0 {
				workers = svcs.Config.Playback.WarmWorkers
			}

			colTitle.Println("Warming speech cache")
			if !svcs.Store.Available(cmd.Context()) {
				colWarning.Println("  store unavailable, clips will not persist")
			}
			rep, err := warm(cmd.Context(), svcs.Store, svcs.Speech, story.Utterances(svcs.Episode), workers)
			if err != nil {
				return err
			}
			printWarmReport(rep)
			if rep.Failed > 0 {
				return fmt.Errorf("%d lines could not be synthesized", rep.Failed)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel syntheses (default from config)")
	return cmd
}

// Persisted reports whether a clip is already stored.
type Persisted interface {
	HasCache(ctx context.Context, key string) (bool, error)
}

// Synthesizer resolves one utterance to a clip, or nil.
type Synthesizer interface {
	Synthesize(ctx context.Context, u speech.Utterance) *audio.Clip
}

// warm synthesizes every utterance that is not yet persisted, at most
// workers at a time.
func warm(ctx context.Context, st Persisted, synth Synthesizer, utterances []speech.Utterance, workers int) (WarmReport, error) {
	start := time.Now()
	rep := WarmReport{Total: len(utterances)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	seen := make(map[string]bool, len(utterances))
	for _, u := range utterances {
		if seen[u.CacheKey] {
			continue
		}
		seen[u.CacheKey] = true

		g.Go(func() error {
			if ok, err := st.HasCache(gctx, u.CacheKey); err == nil && ok {
				atomic.AddInt64(&rep.Cached, 1)
				return nil
			}
			if synth.Synthesize(gctx, u) == nil {
				if err := gctx.Err(); err != nil {
					return err
				}
				atomic.AddInt64(&rep.Failed, 1)
				slog.Warn("Warm: no audio for line", "key", u.CacheKey)
				return nil
			}
			atomic.AddInt64(&rep.Synthesized, 1)
			return nil
		})
	}
	err := g.Wait()
	rep.Elapsed = time.Since(start)
	return rep, err
}

func printWarmReport(rep WarmReport) {
	colSuccess.Printf("  synthesized  %d\n", rep.Synthesized)
	colInfo.Printf("  cached       %d\n", rep.Cached)
	if rep.Failed > 0 {
		colError.Printf("  failed       %d\n", rep.Failed)
	}
	fmt.Printf("%d lines in %v\n", rep.Total, rep.Elapsed.Round(time.Millisecond))
}
