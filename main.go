/*
ftplite moves files between a client and a server over a raw TCP connection.

Every connection carries exactly one transfer: a single text command line
followed by the file bytes. Interrupted transfers resume from a byte offset
recorded on the client, and a file may be gzipped as a whole in transit.

	ftplite serve --storage ./storage
	ftplite upload --server 10.0.0.5:2121 report.txt
	ftplite download --resume movie.mkv
	ftplite resume list
	ftplite meta report.txt
*/
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"ftplite/internal/cli"
	"ftplite/internal/logging"
)

func main() {
	// Cancelled on SIGINT/SIGTERM; the server stops accepting and lets
	// in-flight transfers finish.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, os.Args[1:]); err != nil {
		logging.LogError(err, "ftplite")
		stop()
		os.Exit(1)
	}

	slog.Info("Application shutting down gracefully")
}
