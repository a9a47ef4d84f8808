package cli

import (
	"github.com/spf13/cobra"

	"ftplite/internal/server"
)

func newServeCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept uploads and downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.resolve(cmd, true); err != nil {
				return err
			}
			return server.Run(cmd.Context(), opts.cfg)
		},
	}

	cfg := opts.cfg
	fs := cmd.Flags()
	fs.StringVarP(&cfg.ListenAddress, "listen", "l", cfg.ListenAddress, "Address to listen on")
	fs.StringVar(&cfg.StorageDir, "storage", cfg.StorageDir, "Directory holding stored files")
	fs.StringVar(&cfg.MetadataPath, "metadata", cfg.MetadataPath, "Metadata database directory")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "Connections served at once")
	fs.BoolVar(&cfg.Advertise, "advertise", false, "Advertise the server via mDNS")
	return cmd
}
