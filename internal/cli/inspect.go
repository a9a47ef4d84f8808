package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"ftplite/internal/metadata"
	"ftplite/internal/resume"
)

func newResumeCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Inspect or discard resume records",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show recorded offsets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := resume.NewTracker(opts.cfg.ResumeFile).Records()
			if err != nil {
				return err
			}
			return printResume(cmd.OutOrStdout(), records)
		},
	}

	var all bool
	clearCmd := &cobra.Command{
		Use:   "clear [NAME...]",
		Short: "Forget recorded offsets so the next transfer starts over",
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker := resume.NewTracker(opts.cfg.ResumeFile)
			if all {
				names, err := tracker.Names()
				if err != nil {
					return err
				}
				args = names
			}
			if len(args) == 0 {
				return fmt.Errorf("name the records to clear or pass --all")
			}
			for _, name := range args {
				if err := tracker.Clear(name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", name)
			}
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&all, "all", false, "Clear every record")

	cmd.PersistentFlags().StringVar(&opts.cfg.ResumeFile, "resume-file", opts.cfg.ResumeFile, "Resume state file")
	cmd.AddCommand(listCmd, clearCmd)
	return cmd
}

func printResume(w io.Writer, records map[string]int64) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no resume records")
		return err
	}

	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tOFFSET")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\n", name, humanize.IBytes(uint64(records[name])))
	}
	return tw.Flush()
}

func newMetaCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meta NAME",
		Short: "Show the metadata recorded for a stored file",
		Long: "Show the metadata recorded for a stored file. The metadata database is\n" +
			"locked while a server is using it.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := metadata.OpenBadger(opts.cfg.MetadataPath)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Lookup(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			downloads, err := store.Downloads(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printMeta(cmd.OutOrStdout(), rec, downloads)
		},
	}

	cmd.Flags().StringVar(&opts.cfg.MetadataPath, "metadata", opts.cfg.MetadataPath, "Metadata database directory")
	return cmd
}

func printMeta(w io.Writer, rec metadata.FileRecord, downloads []metadata.DownloadRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", rec.Name)
	fmt.Fprintf(tw, "Size:\t%s (%d bytes)\n", humanize.IBytes(uint64(rec.Size)), rec.Size)
	fmt.Fprintf(tw, "Uploader:\t%s\n", rec.Uploader)
	if !rec.UploadedAt.IsZero() {
		fmt.Fprintf(tw, "Uploaded:\t%s (%s)\n", rec.UploadedAt.Format(time.RFC3339), humanize.Time(rec.UploadedAt))
	}
	if rec.Checksum != "" {
		fmt.Fprintf(tw, "BLAKE2b:\t%s\n", rec.Checksum)
	}
	fmt.Fprintf(tw, "Downloads:\t%d\n", rec.DownloadCount)
	for _, d := range downloads {
		fmt.Fprintf(tw, "\t%s\t%s\n", d.At.Format(time.RFC3339), d.Downloader)
	}
	return tw.Flush()
}
