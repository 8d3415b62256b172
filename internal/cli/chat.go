package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Turner sends one chat turn. *session.Manager implements it.
type Turner interface {
	Send(ctx context.Context, title, userInput string) (string, string, error)
}

// NewChatCmd creates the chat command.
func NewChatCmd() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the assistant",
		Long: `Send a message, or start an interactive session when no message is given.

A new conversation is named after its first message. Pass --title to
continue a stored conversation.`,
		Example: `  # One-shot message in a new conversation
  kronos chat "Plan a weekend in Paris"

  # Continue an existing conversation interactively
  kronos chat --title "Paris Weekend Plan"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}
			mgr, err := cliCtx.Manager()
			if err != nil {
				return err
			}

			if len(args) > 0 {
				return runChatOnce(cmd.Context(), mgr, cmd.OutOrStdout(), cmd.ErrOrStderr(), title, strings.Join(args, " "))
			}

			label := title
			if label == "" {
				label = cliCtx.Config.Session.DefaultTitle
			}
			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			return runChatLoop(cmd.Context(), mgr, cmd.InOrStdin(), cmd.OutOrStdout(), title, label, interactive)
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "conversation title to continue")

	return cmd
}

// runChatOnce sends one message. The response goes to out and the
// conversation title to errOut, so output stays pipeable while the title
// needed for --title is still shown.
func runChatOnce(ctx context.Context, t Turner, out, errOut io.Writer, title, message string) error {
	name, response, err := t.Send(ctx, title, message)
	if err != nil {
		return err
	}
	fmt.Fprintf(errOut, "[%s]\n", name)
	fmt.Fprintln(out, response)
	return nil
}

// runChatLoop reads one message per line until EOF or "exit". The title
// returned by the first turn is used for the rest of the loop.
func runChatLoop(ctx context.Context, t Turner, in io.Reader, out io.Writer, title, label string, interactive bool) error {
	if interactive {
		fmt.Fprintln(out, "Type a message and press Enter. \"exit\" quits.")
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if interactive {
			fmt.Fprintf(out, "[%s] You: ", label)
		}
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		newTitle, response, err := t.Send(ctx, title, line)
		if err != nil {
			return err
		}
		title, label = newTitle, newTitle
		fmt.Fprintf(out, "Assistant: %s\n", response)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}
