package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cloo-solutions/repokit/internal/config"
	"github.com/cloo-solutions/repokit/internal/domain"
	"github.com/cloo-solutions/repokit/internal/logger"
	"github.com/cloo-solutions/repokit/internal/provider"
	"github.com/cloo-solutions/repokit/internal/repository"
	"github.com/spf13/cobra"
)

func NoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Manage notes",
		Long:  "Add, list and delete notes directly through the configured provider",
	}

	cmd.AddCommand(NoteAddCmd())
	cmd.AddCommand(NoteListCmd())
	cmd.AddCommand(NoteDeleteCmd())
	cmd.AddCommand(NoteClearCmd())

	return cmd
}

func NoteAddCmd() *cobra.Command {
	var title, body string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a note",
		Long:  "Add a note and commit it in a transaction of its own",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return withNotes(cmd.Context(), func(ctx context.Context, cfg *config.Config, repo repository.Repository[domain.Note]) error {
				note := domain.NewNote(title, body)
				if err := note.Validate(); err != nil {
					return err
				}

				_, err := repository.Transact(ctx, repo, cfg.DefaultIsolation(), func(r repository.Repository[domain.Note]) error {
					if err := r.Persist(ctx, note); err != nil {
						return err
					}
					return r.Commit(ctx)
				})
				if err != nil {
					return fmt.Errorf("failed to add note: %w", err)
				}

				if outputFormat == "json" {
					return printJSON(cmd.OutOrStdout(), note)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Note created: %s (id: %d)\n", note.Title, note.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Note title")
	cmd.Flags().StringVarP(&body, "body", "b", "", "Note body")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func NoteListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all notes",
		Long:  "List every stored note in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return withNotes(cmd.Context(), func(ctx context.Context, _ *config.Config, repo repository.Repository[domain.Note]) error {
				notes, err := repository.Collect[domain.Note](ctx, repo)
				if err != nil {
					return fmt.Errorf("failed to list notes: %w", err)
				}

				out := cmd.OutOrStdout()
				if outputFormat == "json" {
					if notes == nil {
						notes = []*domain.Note{}
					}
					return printJSON(out, map[string]any{"items": notes})
				}
				if len(notes) == 0 {
					fmt.Fprintln(out, "No notes found")
					return nil
				}
				fmt.Fprintln(out, "Notes:")
				for _, note := range notes {
					fmt.Fprintf(out, "  %d: %s\n", note.ID, note.Title)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func NoteDeleteCmd() *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a note",
		Long:  "Delete the note with the given id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNotes(cmd.Context(), func(ctx context.Context, cfg *config.Config, repo repository.Repository[domain.Note]) error {
				note, found, err := repository.Find(ctx, repo, func(n *domain.Note) bool { return n.ID == id })
				if err != nil {
					return fmt.Errorf("failed to find note: %w", err)
				}
				if !found {
					return domain.ErrEntityNotFound.WithCause(fmt.Errorf("note %d", id))
				}

				_, err = repository.Transact(ctx, repo, cfg.DefaultIsolation(), func(r repository.Repository[domain.Note]) error {
					if err := r.Delete(ctx, note); err != nil {
						return err
					}
					return r.Commit(ctx)
				})
				if err != nil {
					return fmt.Errorf("failed to delete note: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Note %d deleted\n", id)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "Id of the note to delete")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func NoteClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every note",
		Long:  "Delete every stored note in a single transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withNotes(cmd.Context(), func(ctx context.Context, cfg *config.Config, repo repository.Repository[domain.Note]) error {
				n, err := repository.Count[domain.Note](ctx, repo)
				if err != nil {
					return fmt.Errorf("failed to count notes: %w", err)
				}

				_, err = repository.Transact(ctx, repo, cfg.DefaultIsolation(), func(r repository.Repository[domain.Note]) error {
					if err := r.DeleteAll(ctx); err != nil {
						return err
					}
					return r.Commit(ctx)
				})
				if err != nil {
					return fmt.Errorf("failed to clear notes: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d notes\n", n)
				return nil
			})
		},
	}
}

// withNotes opens the configured repository for the duration of fn.
func withNotes(ctx context.Context, fn func(context.Context, *config.Config, repository.Repository[domain.Note]) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cfg, log, err := environment(ctx)
	if err != nil {
		return err
	}

	repo, err := provider.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Warn(ctx, "failed to close repository", logger.Err(err))
		}
	}()

	return fn(ctx, cfg, repo)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
