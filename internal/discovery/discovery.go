// Package discovery advertises and finds servers on the local network via mDNS.
package discovery

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"

	"ftplite/internal/errors"
)

const (
	ServiceType = "_ftplite._tcp"
	Domain      = "local."
)

// ErrNotFound is returned when no server answered within the wait period.
var ErrNotFound = stderrors.New("no server found on the local network")

// Advertise registers the server on port and returns a function that
// withdraws the registration.
func Advertise(port int) (func(), error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "ftplite"
	}

	server, err := zeroconf.Register(hostname, ServiceType, Domain, port, []string{"txtv=0", "proto=ftplite"}, nil)
	if err != nil {
		return nil, errors.NewConnectionError("advertise", strconv.Itoa(port), err)
	}

	slog.Info("Discovery beacon started", "service", ServiceType, "instance", hostname, "port", port)
	return server.Shutdown, nil
}

// Find browses for an advertised server and returns the address of the first
// one that answers within wait.
func Find(ctx context.Context, wait time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", errors.NewConnectionError("resolver", Domain, err)
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return "", errors.NewConnectionError("browse", ServiceType, err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			if addr := entryAddress(entry); addr != "" {
				slog.Info("Discovered server", "instance", entry.Instance, "address", addr)
				return addr, nil
			}
		case <-ctx.Done():
			return "", ErrNotFound
		}
	}
}

// entryAddress prefers IPv4
func entryAddress(entry *zeroconf.ServiceEntry) string {
	if entry == nil || entry.Port == 0 {
		return ""
	}

	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return ""
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port))
}
