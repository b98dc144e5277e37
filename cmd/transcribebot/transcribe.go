package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transcribebot/internal/media"
	"transcribebot/internal/provider"

	"github.com/spf13/cobra"
)

func transcribeCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Transcribe a local audio file with the configured engine",
		Long: `Runs the configured transcription engine on a local file and prints the
text. The file is sniffed first and non-audio input is refused unless
--force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, closeLog, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			path := args[0]
			contentType, isAudio, err := media.SniffAudio(path)
			if err != nil {
				return err
			}
			if !isAudio && !force {
				return fmt.Errorf("%s looks like %s, not audio (use --force to try anyway)", path, contentType)
			}
			log.Debug("input detected", "path", path, "content_type", contentType)

			transcriber, err := provider.NewTranscriber(cfg.Transcription, provider.SharedHTTPClient(0), log)
			if err != nil {
				return fmt.Errorf("transcription engine: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			start := time.Now()
			result, err := transcriber.Transcribe(ctx, path)
			if err != nil {
				return err
			}
			log.Info("transcription complete", "engine", transcriber.Name(), "text_len", len(result.Text), "duration", time.Since(start))

			if result.IsEmpty {
				fmt.Fprintln(cmd.OutOrStdout(), cfg.Messages.NoTranscript)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip the audio content check")
	return cmd
}
