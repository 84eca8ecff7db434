package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gatotkota/internal/storage"
	"gatotkota/internal/upload"
)

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload local photos through the same queue the service uses",
		Example: `  gatotkota upload pothole.jpg flood.png
  gatotkota upload --config prod.yml ./evidence/*.jpg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			uploader, err := storage.New(cfg.Storage)
			if err != nil {
				return fmt.Errorf("storage backend: %w", err)
			}

			opts := queueOptions(cfg, uploader, nil)
			opts.MaxFiles = max(opts.MaxFiles, len(args))
			q := upload.NewQueue(opts)
			defer q.Close()

			srcs := make([]upload.Source, 0, len(args))
			for _, path := range args {
				src, err := upload.NewFileSource(path)
				if err != nil {
					return err //nolint:wrapcheck
				}
				srcs = append(srcs, src)
			}
			if _, err := q.AddBatch(srcs); err != nil {
				log.Warn().Err(err).Msg("some files were rejected")
			}

			uploaded, err := q.UploadAllPending(cmd.Context())
			out := cmd.OutOrStdout()
			for _, f := range uploaded {
				fmt.Fprintf(out, "%s\t%s\n", f.Name, f.URL)
			}
			var partial *upload.PartialUploadError
			if errors.As(err, &partial) {
				for _, f := range partial.Failed {
					fmt.Fprintf(out, "%s\tFAILED: %s\n", f.Name, f.Error)
				}
			}
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			if s := q.Stats(); s.Total < len(args) {
				return fmt.Errorf("%d of %d files rejected", len(args)-s.Total, len(args))
			}
			return nil
		},
	}
}
