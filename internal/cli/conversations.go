package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"kronos/internal/session"
)

// NewConversationsCmd creates the conversations command.
func NewConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage stored conversations",
		Long:    `List, view, and delete stored conversations.`,
	}

	cmd.AddCommand(newConversationsListCmd())
	cmd.AddCommand(newConversationsShowCmd())
	cmd.AddCommand(newConversationsDeleteCmd())

	return cmd
}

func newConversationsListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := managerFor(cmd)
			if err != nil {
				return err
			}
			convs, err := mgr.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, convs)
			}
			if len(convs) == 0 {
				fmt.Fprintln(out, "No conversations.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TITLE\tTOKENS\tROUNDS\tUPDATED")
			for _, c := range convs {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", c.Title, c.TokenCount, c.CompactionRounds, c.UpdatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newConversationsShowCmd() *cobra.Command {
	var (
		jsonOutput  bool
		showHistory bool
	)

	cmd := &cobra.Command{
		Use:   "show <title>",
		Short: "Show a conversation's rolling context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := managerFor(cmd)
			if err != nil {
				return err
			}
			rec, err := mgr.Context(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, rec)
			}

			fmt.Fprintf(out, "Title:   %s\n", args[0])
			fmt.Fprintf(out, "Tokens:  %d\n", rec.TokenCount)
			fmt.Fprintf(out, "Rounds:  %d\n", rec.CompactionRounds)
			fmt.Fprintf(out, "Context:\n%s\n", rec.SummarizedContext)

			if !showHistory {
				return nil
			}
			msgs, err := mgr.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "\nHistory:")
			for _, m := range msgs {
				fmt.Fprintf(out, "%s: %s\n", m.Speaker, m.Content)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().BoolVar(&showHistory, "history", false, "also print the transcript")

	return cmd
}

func newConversationsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <title>",
		Short: "Delete a conversation and its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := managerFor(cmd)
			if err != nil {
				return err
			}
			if err := mgr.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q\n", args[0])
			return nil
		},
	}
}

func managerFor(cmd *cobra.Command) (*session.Manager, error) {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return nil, fmt.Errorf("CLI context not initialized")
	}
	return cliCtx.Manager()
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
