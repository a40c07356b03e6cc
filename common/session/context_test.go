package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	xnet "github.com/xtls/xray-tun-core/common/net"
	"github.com/xtls/xray-tun-core/common/session"
)

func TestContextWithInboundRoundTrip(t *testing.T) {
	src := xnet.UDPDestination(xnet.AnyIP, xnet.Port(1234))
	ctx := session.ContextWithInbound(context.Background(), &session.Inbound{Name: "tun", Source: src})

	got := session.InboundFromContext(ctx)
	assert.NotNil(t, got)
	assert.Equal(t, "tun", got.Name)
	assert.Equal(t, src, got.Source)
}

func TestInboundFromContextAbsent(t *testing.T) {
	assert.Nil(t, session.InboundFromContext(context.Background()))
}

func TestContextWithContentRoundTrip(t *testing.T) {
	ctx := session.ContextWithContent(context.Background(), &session.Content{Protocol: "tls"})
	got := session.ContentFromContext(ctx)
	assert.NotNil(t, got)
	assert.Equal(t, "tls", got.Protocol)
}

func TestContentFromContextAbsent(t *testing.T) {
	assert.Nil(t, session.ContentFromContext(context.Background()))
}

func TestNewIDIsMonotonic(t *testing.T) {
	a := session.NewID()
	b := session.NewID()
	assert.Equal(t, a+1, b)
}
