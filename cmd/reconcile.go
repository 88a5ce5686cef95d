package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Report doc chats whose vector collection and metadata disagree",
	Long: `reconcile lists doc chats that record a document but have no vector collection,
and doc collections that belong to no chat. With --repair the orphan collections
are dropped and the stale document records are cleared.`,
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().Bool("repair", false, "fix the inconsistencies that are found")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	repair, _ := cmd.Flags().GetBool("repair")

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.docChats.Reconcile(ctx, repair)
	if report == nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, id := range report.MissingCollections {
		fmt.Fprintf(out, "missing collection\t%s\n", id)
	}
	for _, name := range report.OrphanCollections {
		fmt.Fprintf(out, "orphan collection\t%s\n", name)
	}
	if report.Consistent() {
		fmt.Fprintln(out, "vector store and metadata are consistent")
	} else if repair {
		fmt.Fprintf(out, "repaired %d item(s)\n", report.Repaired)
	}
	return err
}
