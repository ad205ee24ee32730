//go:build !unix

package discovery

import "net"

// listenConfig returns the platform's default ListenConfig; SO_REUSEADDR
// and SO_BROADCAST tuning only applies on unix where golang.org/x/sys/unix
// exposes SetsockoptInt.
func listenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
