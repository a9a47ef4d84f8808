// Package cli wires the command line to the server and client.
package cli

import (
	"context"
	"os/user"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"ftplite/internal/config"
	"ftplite/internal/logging"
)

// options carries the values bound to flags for one invocation
type options struct {
	cfg        *config.Config
	configFile string
	noProgress bool
}

// NewRootCommand builds the ftplite command tree
func NewRootCommand() *cobra.Command {
	opts := &options{cfg: config.Default()}
	opts.cfg.User = defaultUser()

	root := &cobra.Command{
		Use:           "ftplite",
		Short:         "Resumable file transfer over raw TCP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.SetupLogger(opts.cfg.LogDir, opts.cfg.Verbose)
		},
	}

	addCommonFlags(root.PersistentFlags(), opts)

	root.AddCommand(
		newServeCommand(opts),
		newUploadCommand(opts),
		newDownloadCommand(opts),
		newResumeCommand(opts),
		newMetaCommand(opts),
	)
	return root
}

// Execute runs the command tree with ctx
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func addCommonFlags(fs *pflag.FlagSet, opts *options) {
	cfg := opts.cfg
	fs.StringVar(&opts.configFile, "config", "", "JSON configuration file")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for log files (empty for console only)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable debug logging")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "Bytes moved per send/receive call")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "Buffered reader size for connections")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", 0, "Fail a transfer that stalls this long (0 disables)")
}

func addClientFlags(fs *pflag.FlagSet, opts *options) {
	cfg := opts.cfg
	fs.StringVarP(&cfg.ServerAddress, "server", "s", cfg.ServerAddress, "Server address (host:port)")
	fs.StringVarP(&cfg.User, "user", "u", cfg.User, "User name sent with each command")
	fs.StringVar(&cfg.ResumeFile, "resume-file", cfg.ResumeFile, "Resume state file")
	fs.StringVar(&cfg.DownloadDir, "downloads", cfg.DownloadDir, "Directory for downloaded files")
	fs.BoolVar(&cfg.Discover, "discover", false, "Find the server via mDNS instead of --server")
	fs.DurationVar(&cfg.DiscoverWait, "discover-wait", cfg.DiscoverWait, "How long to browse for a server")
	fs.BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress bar")
}

// resolve applies the config file and validates. Flags set on the command
// line win over file values.
func (o *options) resolve(cmd *cobra.Command, server bool) error {
	o.cfg.IsServer = server
	o.cfg.ShowProgress = !o.noProgress

	if o.configFile != "" {
		if err := o.cfg.ApplyFile(o.configFile, cmd.Flags().Changed); err != nil {
			return err
		}
	}
	if err := o.cfg.Validate(); err != nil {
		return err
	}

	logging.LogConfig(o.cfg)
	return nil
}

func defaultUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "anonymous"
}
