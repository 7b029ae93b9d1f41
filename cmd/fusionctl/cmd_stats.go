package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/temcen/fusionrec/pkg/models"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the active generation of every index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.svc.Engine.GetIndexStats(cmd.Context())
			if err != nil {
				return err
			}

			return render(cmd, stats, func(w io.Writer) {
				for _, g := range []struct {
					kind  models.IndexKind
					stats *models.GenerationStats
				}{
					{models.IndexKindCF, stats.CF},
					{models.IndexKindContent, stats.Content},
					{models.IndexKindPopularity, stats.Popularity},
				} {
					if g.stats == nil {
						fmt.Fprintf(w, "%-10s  no active generation\n", g.kind)
						continue
					}
					fmt.Fprintf(w, "%-10s  generation %d built %s: %d items, %d edges, avg score %.4f\n",
						g.kind, g.stats.GenerationID, g.stats.BuiltAt.Format(time.RFC3339),
						g.stats.Items, g.stats.Edges, g.stats.AvgScore)
				}
			})
		},
	}
}

func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Replay a temporal holdout and compare hybrid against popularity",
		Long: `Evaluate builds indexes from purchases before the cutoff and scores
each user's top-k against what they bought afterwards.

Examples:
  fusionctl evaluate --cutoff 2024-05-01T00:00:00Z --k 10
  fusionctl evaluate --cutoff 2024-05-01T00:00:00Z --max-users 500 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cutoffFlag, _ := cmd.Flags().GetString("cutoff")
			k, _ := cmd.Flags().GetInt("k")
			maxUsers, _ := cmd.Flags().GetInt("max-users")

			cutoff, err := time.Parse(time.RFC3339, cutoffFlag)
			if err != nil {
				return fmt.Errorf("--cutoff must be an RFC 3339 timestamp: %w", err)
			}

			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.svc.Evaluator.Evaluate(cmd.Context(), models.EvaluationConfig{
				Cutoff:   cutoff,
				K:        k,
				MaxUsers: maxUsers,
			})
			if err != nil {
				return err
			}

			return render(cmd, report, func(w io.Writer) {
				fmt.Fprintf(w, "Holdout after %s, k=%d, %d catalog items\n",
					report.Cutoff.Format(time.RFC3339), report.K, report.CatalogItems)
				fmt.Fprintf(w, "%-10s  %8s  %8s  %8s  %6s\n", "", "hit@k", "ndcg@k", "coverage", "users")
				for _, row := range []struct {
					name string
					m    models.MetricSet
				}{
					{"hybrid", report.Hybrid},
					{"popularity", report.Popularity},
				} {
					fmt.Fprintf(w, "%-10s  %8.4f  %8.4f  %8.4f  %6d\n", row.name, row.m.HitRate, row.m.NDCG, row.m.Coverage, row.m.Users)
				}
				fmt.Fprintf(w, "lift: hit rate %+.4f, ndcg %+.4f\n", report.HitRateLift, report.NDCGLift)
			})
		},
	}

	cmd.Flags().String("cutoff", "", "Split point between training and holdout purchases (RFC 3339)")
	cmd.Flags().Int("k", 10, "Cutoff rank")
	cmd.Flags().Int("max-users", 0, "Evaluate at most this many users (0 for all)")
	_ = cmd.MarkFlagRequired("cutoff")
	return cmd
}
