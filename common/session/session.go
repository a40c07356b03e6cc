// Package session holds per-request metadata stamped onto a context as it flows from an
// inbound into the dispatcher, used purely for log correlation in this module.
package session

import (
	"math/rand"
	"sync/atomic"

	"github.com/xtls/xray-tun-core/common/ctx"
	"github.com/xtls/xray-tun-core/common/net"
)

var idSeed uint32 = rand.Uint32() //nolint: gosec

// NewID generates a new session ID, used for log correlation across a single connection or
// UDP association's lifetime. IDs are issued consecutively from a randomly chosen start.
func NewID() ctx.ID {
	return ctx.ID(atomic.AddUint32(&idSeed, 1))
}

// Inbound is the metadata of an inbound connection or association.
type Inbound struct {
	// Source address of the inbound connection.
	Source net.Destination
	// Name of the inbound, e.g. "tun".
	Name string
}

// Content is the metadata of the connection content, carrying the result of protocol
// sniffing so routing decisions further down the dispatch pipeline can see it without
// re-reading the stream's initial bytes.
type Content struct {
	// Protocol is the Sniffer's verdict for this connection, or empty when sniffing did
	// not run or found nothing it recognized.
	Protocol string
}
