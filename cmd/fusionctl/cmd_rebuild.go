package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/temcen/fusionrec/pkg/models"
)

func newRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild [cf|content|popularity]",
		Short: "Build and activate a new index generation",
		Long: `Rebuild runs an index build synchronously and prints its result.

Examples:
  fusionctl rebuild cf           # Rebuild the co-purchase index
  fusionctl rebuild --all        # Popularity, then CF, then content`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")

			var kinds []models.IndexKind
			switch {
			case all && len(args) > 0:
				return fmt.Errorf("--all does not take an index kind")
			case all:
				kinds = models.IndexKinds()
			case len(args) == 1:
				kind := models.IndexKind(args[0])
				if !kind.Valid() {
					return fmt.Errorf("unknown index kind %q (expected cf, content or popularity)", args[0])
				}
				kinds = []models.IndexKind{kind}
			default:
				return fmt.Errorf("an index kind or --all is required")
			}

			s, err := openSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			results := make([]*models.BuildResult, 0, len(kinds))
			for _, kind := range kinds {
				result, err := s.svc.Jobs.Rebuild(cmd.Context(), kind, "cli")
				if err != nil {
					return err
				}
				results = append(results, result)
			}

			return render(cmd, results, func(w io.Writer) {
				for _, r := range results {
					fmt.Fprintf(w, "%s: generation %d, %d rows over %d items in %s\n",
						r.Kind, r.GenerationID, r.Rows, r.Items, r.Duration)
					if q := r.Quality; q != nil {
						fmt.Fprintf(w, "  coverage %.1f%% (%d/%d items), %d pairs, avg similarity %.4f\n",
							q.CoveragePercent, q.ItemsWithEdges, q.CatalogItems, q.Pairs, q.AvgSimilarity)
					}
				}
			})
		},
	}

	cmd.Flags().Bool("all", false, "Rebuild every index")
	return cmd
}
