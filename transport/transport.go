// Package transport defines the narrow Link abstraction by which traffic is handed between
// the tun core and the proxy core's dispatcher.
package transport

import "github.com/xtls/xray-tun-core/common/buf"

// Link is a utility for connecting between an inbound and an outbound. Relative to the tun
// core, it is the conduit through which a hijacked TCP connection or a UDP association's
// payload stream flows up into the dispatcher, and its reply flows back down.
type Link struct {
	Reader buf.Reader
	Writer buf.Writer
}
