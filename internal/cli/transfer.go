package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ftplite/internal/client"
	"ftplite/internal/config"
	"ftplite/internal/discovery"
	"ftplite/internal/progress"
	"ftplite/internal/resume"
)

func newUploadCommand(opts *options) *cobra.Command {
	var compress bool

	cmd := &cobra.Command{
		Use:   "upload FILE...",
		Short: "Upload files, resuming interrupted transfers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.resolve(cmd, false); err != nil {
				return err
			}
			return eachFile(cmd.Context(), opts.cfg, args, func(ctx context.Context, s *client.Session, path string) error {
				return s.Upload(ctx, path, opts.cfg.User, compress)
			})
		},
	}

	addClientFlags(cmd.Flags(), opts)
	cmd.Flags().BoolVarP(&compress, "compress", "z", false, "Gzip the whole file before sending (disables resume)")
	return cmd
}

func newDownloadCommand(opts *options) *cobra.Command {
	var compress, resumeTransfer bool

	cmd := &cobra.Command{
		Use:   "download NAME...",
		Short: "Download stored files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.resolve(cmd, false); err != nil {
				return err
			}
			if compress && resumeTransfer {
				return fmt.Errorf("--compress and --resume cannot be combined")
			}
			return eachFile(cmd.Context(), opts.cfg, args, func(ctx context.Context, s *client.Session, name string) error {
				return s.Download(ctx, name, opts.cfg.User, compress, resumeTransfer)
			})
		},
	}

	addClientFlags(cmd.Flags(), opts)
	cmd.Flags().BoolVarP(&compress, "compress", "z", false, "Ask the server to gzip the file in transit")
	cmd.Flags().BoolVarP(&resumeTransfer, "resume", "r", false, "Continue from the recorded offset")
	return cmd
}

// eachFile connects once and runs op for every name in turn. It keeps going
// after a failure and reports how many failed.
func eachFile(ctx context.Context, cfg *config.Config, names []string, op func(context.Context, *client.Session, string) error) error {
	addr, err := serverAddress(ctx, cfg)
	if err != nil {
		return err
	}

	session := client.NewSession(cfg, resume.NewTracker(cfg.ResumeFile))
	var display *progress.Display
	if cfg.ShowProgress {
		display = progress.NewDisplay(os.Stderr)
	} else {
		display = progress.NewDisplay(nil)
	}
	session.SetProgress(display.Update)

	if err := session.Connect(ctx, addr); err != nil {
		return err
	}
	defer session.Disconnect()

	failed := 0
	for _, name := range names {
		err := op(ctx, session, name)
		display.Finish()
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: failed: %v\n", name, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "%s: done\n", name)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d transfers failed", failed, len(names))
	}
	return nil
}

func serverAddress(ctx context.Context, cfg *config.Config) (string, error) {
	if !cfg.Discover {
		return cfg.ServerAddress, nil
	}
	return discovery.Find(ctx, cfg.DiscoverWait)
}
