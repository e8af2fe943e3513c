package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	service "github.com/okian/rhythmboard/internal/app"
	"github.com/okian/rhythmboard/internal/domain/types"
)

func newPruneCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Trim every partition to the retention bound once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withStore(cmd.Context(), func(svc *service.Service) error {
				res, err := svc.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "partitions=%d deleted=%d failed=%d\n", res.Partitions, res.Deleted, res.Failed)
				if res.Failed > 0 {
					return fmt.Errorf("%d partitions failed to prune", res.Failed)
				}
				return nil
			})
		},
	}
}

func newTopCmd(e *env) *cobra.Command {
	var (
		diff  string
		limit int
	)
	cmd := &cobra.Command{
		Use:     "top TRACK",
		Short:   "Print the best entries of a chart",
		Example: "rhythmboard top neon-rush --diff hard --limit 10",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withStore(cmd.Context(), func(svc *service.Service) error {
				recs, err := svc.TopN(cmd.Context(), args[0], diff, limit)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no entries")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "#\tNAME\tSCORE\tACC\tCOMBO\tWHEN")
				for i, ent := range types.FromRecords(recs) {
					fmt.Fprintf(w, "%d\t%s\t%d\t%.2f%%\t%d\t%s\n", i+1, ent.Name, ent.Score, ent.Acc*100, ent.Combo,
						time.UnixMilli(ent.Timestamp).UTC().Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&diff, "diff", "", "difficulty (easy, normal, hard)")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of entries")
	return cmd
}

func newRankCmd(e *env) *cobra.Command {
	var diff string
	cmd := &cobra.Command{
		Use:   "rank TRACK NAME",
		Short: "Print one player's rank on a chart",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withStore(cmd.Context(), func(svc *service.Service) error {
				res, err := svc.RankOf(cmd.Context(), args[0], diff, args[1])
				if err != nil {
					return err
				}
				if res.Rank == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: not ranked (%d retained)\n", res.Key.PlayerName, res.Total)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d of %d\n", res.Key.PlayerName, *res.Rank, res.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&diff, "diff", "", "difficulty (easy, normal, hard)")
	return cmd
}
