package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"wakelog/internal/bootstrap"
	"wakelog/internal/domain"
)

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "wakelog",
		Short: "Listen for a wake phrase and keep a short log of what follows",
		Long: `wakelog listens to the microphone continuously. When an utterance contains
the wake phrase (default "super duper"), the rest of the utterance is saved to a
bounded history of the 20 most recent entries.

Configuration is read from $HOME/.config/wakelog/config.yaml, a .env file and
WAKELOG_* environment variables. DEEPGRAM_API_KEY is honored directly.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configFile != "" {
				return os.Setenv("WAKELOG_CONFIG", configFile)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default $HOME/.config/wakelog/config.yaml)")

	root.AddCommand(newListenCmd(), newHistoryCmd())
	return root
}

func newListenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Run the listening loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sink := &consoleSink{out: cmd.OutOrStdout()}
			services, err := bootstrap.Build(sink)
			if err != nil {
				return err
			}
			sink.log = services.Logger

			if err := services.Controller.StartLoop(ctx); err != nil {
				_ = services.Close()
				return err
			}

			select {
			case <-ctx.Done():
			case <-services.Controller.Done():
			}
			if err := services.Close(); err != nil {
				return err
			}
			return services.Controller.Err()
		},
	}
}

func newHistoryCmd() *cobra.Command {
	history := &cobra.Command{
		Use:   "history",
		Short: "Inspect or edit the transcription history",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Print stored transcriptions, newest first",
		Args:  cobra.NoArgs,
		RunE: withHistory(func(ctx context.Context, services *bootstrap.Services, cmd *cobra.Command, _ []string) error {
			records, err := services.History.Recent(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		}),
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one transcription",
		Args:  cobra.ExactArgs(1),
		RunE: withHistory(func(ctx context.Context, services *bootstrap.Services, cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			if err := services.History.DeleteByID(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", id)
			return nil
		}),
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every transcription",
		Args:  cobra.NoArgs,
		RunE: withHistory(func(ctx context.Context, services *bootstrap.Services, cmd *cobra.Command, _ []string) error {
			if err := services.History.DeleteAll(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
			return nil
		}),
	}

	history.AddCommand(list, del, clearCmd)
	return history
}

type historyFunc func(ctx context.Context, services *bootstrap.Services, cmd *cobra.Command, args []string) error

func withHistory(fn historyFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		services, err := bootstrap.Build(bootstrap.NopSink{})
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := services.Close(); err == nil {
				err = closeErr
			}
		}()
		return fn(cmd.Context(), services, cmd, args)
	}
}

func printRecords(w io.Writer, records []domain.TranscriptionRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no transcriptions")
		return
	}
	for _, record := range records {
		marker := " "
		if record.IsError {
			marker = "!"
		}
		fmt.Fprintf(w, "%4d %s %s %s\n", record.ID, marker, record.Timestamp.Local().Format(time.DateTime), record.Text)
	}
}

// consoleSink prints saved records and logs loop activity.
type consoleSink struct {
	out io.Writer
	log zerolog.Logger
}

func (s *consoleSink) LoopStateChanged(state domain.LoopState, reason domain.StateReason) {
	s.log.Debug().Str("state", string(state)).Str("reason", string(reason)).Msg("state")
}

func (s *consoleSink) WakeWordDetected(candidate string) {
	s.log.Info().Str("candidate", candidate).Msg("wake word heard")
}

func (s *consoleSink) RecordSaved(record domain.TranscriptionRecord) {
	printRecords(s.out, []domain.TranscriptionRecord{record})
}

func (s *consoleSink) LoopError(kind domain.ErrorKind, detail string) {
	s.log.Warn().Str("kind", string(kind)).Msg(detail)
}
