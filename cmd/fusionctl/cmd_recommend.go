package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/temcen/fusionrec/pkg/models"
)

func newRecommendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recommend <user-id>",
		Short: "Rank recommendations for a user",
		Long: `Recommend prints the top-k items for a user.

Examples:
  fusionctl recommend u-42 --k 5
  fusionctl recommend u-42 --mode cf
  fusionctl recommend u-42 --weight popularity=0.6 --weight cf=0.2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, _ := cmd.Flags().GetInt("k")
			modeFlag, _ := cmd.Flags().GetString("mode")
			weightFlags, _ := cmd.Flags().GetStringToString("weight")

			mode := models.RecommendationMode(modeFlag)
			if mode != models.ModeHybrid && len(weightFlags) > 0 {
				return fmt.Errorf("--weight only applies to hybrid mode")
			}

			s, err := openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			var weights *models.Weights
			if len(weightFlags) > 0 {
				w, err := parseWeights(s.svc.DefaultWeights, weightFlags)
				if err != nil {
					return err
				}
				weights = &w
			}

			result, err := s.svc.Engine.Recommend(cmd.Context(), mode, args[0], k, weights)
			if err != nil {
				return err
			}

			return render(cmd, result, func(w io.Writer) {
				meta := result.Metadata
				fmt.Fprintf(w, "%s recommendations for %s (%s", result.Mode, result.UserID, meta.AlgorithmVersion)
				if meta.ColdStart {
					fmt.Fprint(w, ", cold start")
				}
				if meta.Fallback {
					fmt.Fprint(w, ", popularity fallback")
				}
				fmt.Fprintln(w, ")")
				for _, rec := range result.Recommendations {
					fmt.Fprintf(w, "%3d. %-20s %8.4f  %-14s %s\n",
						rec.Rank, rec.ItemID, rec.FinalScore, rec.Category, joinSources(rec.ContributingSources))
				}
			})
		},
	}

	cmd.Flags().Int("k", 10, "Number of recommendations")
	cmd.Flags().String("mode", string(models.ModeHybrid), "Ranking mode: hybrid, cf or content")
	cmd.Flags().StringToString("weight", nil, "Override a fusion weight, e.g. cf=0.5 (repeatable)")
	return cmd
}

func newSimilarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "similar <item-id>",
		Short: "List an item's neighbors from the CF or content index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, _ := cmd.Flags().GetInt("k")
			sourceFlag, _ := cmd.Flags().GetString("source")

			source, err := models.ParseCandidateSource(sourceFlag)
			if err != nil {
				return err
			}

			s, err := openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			resp, err := s.svc.Engine.GetSimilarItems(cmd.Context(), args[0], k, source)
			if err != nil {
				return err
			}

			return render(cmd, resp, func(w io.Writer) {
				fmt.Fprintf(w, "%s neighbors of %s (generation %d)\n", resp.Source, resp.ItemID, resp.GenerationID)
				for i, n := range resp.CF {
					fmt.Fprintf(w, "%3d. %-20s %8.4f  %d co-users\n", i+1, n.ItemID, n.Score, n.CoUsers)
				}
				for i, n := range resp.Content {
					fmt.Fprintf(w, "%3d. %-20s %8.4f\n", i+1, n.ItemID, n.Score)
				}
			})
		},
	}

	cmd.Flags().Int("k", 10, "Number of neighbors")
	cmd.Flags().String("source", "cf", "Index to read: cf or content")
	return cmd
}

func newPopularCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "popular",
		Short: "List the head of the popularity index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, _ := cmd.Flags().GetInt("k")
			categories, _ := cmd.Flags().GetStringSlice("category")

			s, err := openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			resp, err := s.svc.Engine.GetPopularItems(cmd.Context(), k, categories...)
			if err != nil {
				return err
			}

			return render(cmd, resp, func(w io.Writer) {
				fmt.Fprintf(w, "popularity generation %d\n", resp.GenerationID)
				for i, p := range resp.Items {
					fmt.Fprintf(w, "%3d. %-20s %-14s %10.2f\n", i+1, p.ItemID, p.Category, p.Score)
				}
			})
		},
	}

	cmd.Flags().Int("k", 10, "Number of items")
	cmd.Flags().StringSlice("category", nil, "Restrict to these categories")
	return cmd
}

func newPurchasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purchases <user-id>",
		Short: "Show a user's most recent purchases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			resp, err := s.svc.Engine.GetUserPurchases(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			return render(cmd, resp, func(w io.Writer) {
				fmt.Fprintf(w, "Recent purchases of %s\n", resp.UserID)
				for _, p := range resp.Purchases {
					fmt.Fprintf(w, "  %-20s %-14s x%-3d %10.2f  %d days ago\n", p.ItemID, p.Category, p.Quantity, p.Amount, p.DaysAgo)
				}
			})
		},
	}

	cmd.Flags().Int("limit", 5, "Number of purchases")
	return cmd
}

// parseWeights applies name=value overrides on top of the configured
// defaults.
func parseWeights(base models.Weights, overrides map[string]string) (models.Weights, error) {
	fields := map[string]*float64{
		"cf":         &base.CF,
		"content":    &base.Content,
		"popularity": &base.Popularity,
		"novelty":    &base.Novelty,
		"price_gap":  &base.PriceGap,
	}
	for name, raw := range overrides {
		target, ok := fields[strings.ToLower(name)]
		if !ok {
			return base, fmt.Errorf("unknown weight %q", name)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return base, fmt.Errorf("weight %s: %q is not a number", name, raw)
		}
		*target = v
	}
	return base, nil
}

func joinSources(sources []models.CandidateSource) string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.String()
	}
	return strings.Join(names, ",")
}
