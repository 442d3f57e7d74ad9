package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/robalobadob/realeffort/internal/config"
	"github.com/robalobadob/realeffort/internal/httpserver"
	"github.com/robalobadob/realeffort/internal/payout"
	"github.com/robalobadob/realeffort/internal/session"
	"github.com/robalobadob/realeffort/internal/task"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("exit")
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfg config.Config

	cmd := &cobra.Command{
		Use:           "realeffort",
		Short:         "Timed real-effort puzzle task server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			setupLogging(cfg)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and live websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return st.Close()
		},
	})
	cmd.AddCommand(newExportCommand(&cfg))
	return cmd
}

func setupLogging(cfg config.Config) {
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		return err
	}
	defer st.Close()

	provider, err := task.Lookup(cfg.Experiment.TaskVariant)
	if err != nil {
		return err
	}
	money, err := payout.New(cfg.Experiment.Currency, language.English)
	if err != nil {
		return err
	}
	proto := session.New(st, provider, cfg.SessionParams(),
		session.WithDebug(cfg.Debug),
		session.WithTaskTimeout(cfg.TaskTimeout),
	)

	srv := httpserver.New(cfg, st, proto, money)
	log.Info().
		Str("port", cfg.Port).
		Str("variant", provider.Name()).
		Interface("params", cfg.Experiment.Task).
		Bool("debug", cfg.Debug).
		Msg("starting realeffort server")
	if err := srv.Start(ctx, ":"+cfg.Port); err != nil {
		log.Error().Err(err).Msg("server exited")
		return err
	}
	return nil
}

func newExportCommand(cfg *config.Config) *cobra.Command {
	var (
		playerID string
		format   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print a participant's puzzle history",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			list, err := st.Puzzles(cmd.Context(), playerID)
			if err != nil {
				return err
			}
			entries := make([]session.AuditEntry, 0, len(list))
			for _, pz := range list {
				entries = append(entries, pz.Audit())
			}
			return writeAudit(cmd.OutOrStdout(), entries, format)
		},
	}
	cmd.Flags().StringVar(&playerID, "player", "", "participant id")
	cmd.Flags().StringVar(&format, "format", "text", "output format (json|text)")
	_ = cmd.MarkFlagRequired("player")
	return cmd
}

func writeAudit(w io.Writer, entries []session.AuditEntry, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ITERATION\tSOLUTION\tRESPONSE\tATTEMPTS\tCORRECT")
		for _, e := range entries {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", e.Iteration, e.Solution, deref(e.Response), e.Attempts, tri(e.IsCorrect))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("invalid format %q: must be json or text", format)
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func tri(b *bool) string {
	switch {
	case b == nil:
		return "-"
	case *b:
		return "yes"
	default:
		return "no"
	}
}
