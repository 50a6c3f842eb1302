package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"ragchat/internal/attach"
	"ragchat/internal/engine"
)

func (a *app) chatCommand() *cobra.Command {
	var attachPaths []string
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a conversational turn, or start an interactive session",
		Long: `With a message argument, send one turn and stream the answer.
Without arguments, start an interactive loop. Prefix a message with
"doc:" to send attached text files as retrieval documents. In the
interactive loop, /attach <path>, /detach <name> and /files manage
attachments; Ctrl-C cancels an in-flight generation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.newEngine(cmd)
			if err != nil {
				return err
			}
			if err := attachAll(eng, attachPaths); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if err := eng.Connect(ctx); err != nil {
				return err
			}
			defer eng.Disconnect()

			notifier := eng.Notifier().(*consoleNotifier)
			if len(args) > 0 {
				return submitAndWait(ctx, eng, notifier, strings.Join(args, " "))
			}
			return a.interactive(ctx, cmd, eng, notifier)
		},
	}
	cmd.Flags().StringSliceVarP(&attachPaths, "attach", "a", nil, "attach a file (repeatable)")
	return cmd
}

func (a *app) generateCommand() *cobra.Command {
	var attachPaths []string
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Send a one-shot generation request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.newEngine(cmd)
			if err != nil {
				return err
			}
			if err := attachAll(eng, attachPaths); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if err := eng.Connect(ctx); err != nil {
				return err
			}
			defer eng.Disconnect()

			notifier := eng.Notifier().(*consoleNotifier)
			done := notifier.waitCh()
			if err := eng.Generate(ctx, strings.Join(args, " ")); err != nil {
				return err
			}
			return waitDone(ctx, eng, done)
		},
	}
	cmd.Flags().StringSliceVarP(&attachPaths, "attach", "a", nil, "attach a file (repeatable)")
	return cmd
}

func attachAll(eng *engine.Engine, paths []string) error {
	for _, path := range paths {
		f, err := attach.FromPath(path)
		if err != nil {
			return err
		}
		if err := eng.Attachments().Add(f); err != nil {
			return err
		}
	}
	return nil
}

func submitAndWait(ctx context.Context, eng *engine.Engine, notifier *consoleNotifier, input string) error {
	done := notifier.waitCh()
	if err := eng.Submit(ctx, input); err != nil {
		return err
	}
	return waitDone(ctx, eng, done)
}

// waitDone blocks until the generation finishes or the context is
// interrupted, in which case the generation is cancelled.
func waitDone(ctx context.Context, eng *engine.Engine, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		cancelCtx := context.Background()
		return eng.Cancel(cancelCtx)
	}
}

func (a *app) interactive(ctx context.Context, cmd *cobra.Command, eng *engine.Engine, notifier *consoleNotifier) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "chat %s — model %s (empty line or /quit to exit)\n", eng.ChatID(), a.cfg.ChatModel)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || line == "/quit":
			return nil
		case strings.HasPrefix(line, "/attach "):
			if err := attachAll(eng, []string{strings.TrimSpace(line[len("/attach "):])}); err != nil {
				fmt.Fprintln(out, "attach failed:", err)
			}
			continue
		case strings.HasPrefix(line, "/detach "):
			name := strings.TrimSpace(line[len("/detach "):])
			for _, f := range eng.Attachments().List() {
				if f.Name == name {
					eng.Attachments().Remove(f.Name, f.Size)
					break
				}
			}
			continue
		case line == "/files":
			for _, f := range eng.Attachments().List() {
				fmt.Fprintf(out, "  %s (%d bytes, %s)\n", f.Name, f.Size, f.MimeType)
			}
			continue
		}

		err := submitAndWait(ctx, eng, notifier, line)
		switch {
		case errors.Is(err, engine.ErrEmptySubmission):
			fmt.Fprintln(out, "nothing to send")
		case errors.Is(err, engine.ErrGenerating):
			fmt.Fprintln(out, "a generation is already running")
		case err != nil:
			fmt.Fprintln(out, "send failed:", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
