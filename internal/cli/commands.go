package cli

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"ragchat/internal/client"
	"ragchat/internal/identity"
	"ragchat/internal/models"
	"ragchat/internal/stub"
)

func (a *app) historyCommand() *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear the stored conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.newEngine(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if clear {
				if err := eng.ClearHistory(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(out, "history cleared")
				return nil
			}
			entries, err := eng.History(cmd.Context())
			if err != nil {
				return err
			}
			for _, entry := range entries {
				if entry.Role == models.RoleAssistant {
					fmt.Fprintf(out, "assistant:\n%s\n\n", entry.Rendered)
					continue
				}
				fmt.Fprintf(out, "user: %s\n\n", entry.Content)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "delete the stored conversation")
	return cmd
}

func (a *app) modelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models advertised by the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.newEngine(cmd)
			if err != nil {
				return err
			}
			list, err := eng.Models(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range list {
				tags := ""
				if m.IsEmbeddingModel {
					tags += " [embedding]"
				}
				if m.SupportsImages {
					tags += " [vision]"
				}
				fmt.Fprintf(out, "%s%s — %s, modified %s\n", m.Name, tags, models.FormatSize(m.Size), m.Modified)
			}
			return nil
		},
	}
}

func (a *app) docCommand() *cobra.Command {
	doc := &cobra.Command{
		Use:   "doc",
		Short: "Manage the retrieval corpus",
	}
	doc.AddCommand(&cobra.Command{
		Use:   "add <file>",
		Short: "Upload a text document to the RAG corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !client.DocumentFileAllowed(args[0]) {
				return fmt.Errorf("only text documents are allowed (.txt, .md, .json)")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			eng, err := a.newEngine(cmd)
			if err != nil {
				return err
			}
			id, err := eng.AddDocument(cmd.Context(), string(data))
			if errors.Is(err, client.ErrDuplicateDocument) {
				fmt.Fprintln(cmd.OutOrStdout(), "document already exists in the corpus")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "document added (ID: %d)\n", id)
			return nil
		},
	})
	return doc
}

func (a *app) settingsCommand() *cobra.Command {
	var push, pull bool
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show settings, or synchronize them with the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.newEngine(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case push:
				if err := eng.SyncSettings(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(out, "settings saved to backend")
			case pull:
				if err := eng.PullSettings(cmd.Context()); err != nil {
					return err
				}
				if err := a.cfg.Save(); err != nil {
					return err
				}
				fmt.Fprintln(out, "settings pulled from backend")
			}
			fmt.Fprintf(out, "server:          %s\n", a.cfg.ServerURL)
			fmt.Fprintf(out, "chat model:      %s\n", a.cfg.ChatModel)
			fmt.Fprintf(out, "embedding model: %s\n", a.cfg.EmbeddingModel)
			fmt.Fprintf(out, "system prompt:   %s\n", a.cfg.SystemPrompt)
			return nil
		},
	}
	cmd.Flags().BoolVar(&push, "push", false, "save local settings to the backend")
	cmd.Flags().BoolVar(&pull, "pull", false, "overwrite local settings from the backend")
	cmd.MarkFlagsMutuallyExclusive("push", "pull")
	return cmd
}

func (a *app) resetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Start a fresh chat session with a new id",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identity.Reset(cmd.Context(), a.idStore)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "new chat id: %s\n", id)
			return nil
		},
	}
}

func (a *app) stubCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Run the in-memory stub backend for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			server := stub.NewServer(a.log)
			fmt.Fprintf(cmd.OutOrStdout(), "stub backend listening on %s\n", addr)
			return http.ListenAndServe(addr, server.Router())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
