package prober

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ikedadada/go-onion/shared/domain/repository"
	vo "ikedadada/go-onion/shared/domain/value_object"
	"ikedadada/go-onion/shared/service"
)

func listen(t *testing.T, reply func(service.FrameService, net.Conn)) vo.Endpoint {
	t.Helper()
	fs := service.NewFrameService(service.NewWireEncodingService())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				if _, _, err := fs.ReadFrame(c); err == nil {
					reply(fs, c)
				}
			}()
		}
	}()
	ep, err := vo.ParseEndpoint(ln.Addr().String())
	require.NoError(t, err)
	return ep
}

func newProber(timeout time.Duration) *TCPProber {
	return NewTCPProber(service.NewFrameService(service.NewWireEncodingService()), timeout)
}

func TestTCPProber(t *testing.T) {
	alive := listen(t, func(fs service.FrameService, c net.Conn) { _ = fs.WriteFrame(c, vo.FramePong, nil) })
	wrong := listen(t, func(fs service.FrameService, c net.Conn) { _ = fs.WriteFrame(c, vo.FrameAccepted, nil) })
	silent := listen(t, func(service.FrameService, net.Conn) { time.Sleep(time.Second) })

	p := newProber(200 * time.Millisecond)
	require.NoError(t, p.Probe(context.Background(), alive))
	require.True(t, repository.IsProtocol(p.Probe(context.Background(), wrong)))
	require.True(t, repository.IsTransport(p.Probe(context.Background(), silent)))

	dead, _ := vo.ParseEndpoint("127.0.0.1:1")
	require.True(t, repository.IsTransport(p.Probe(context.Background(), dead)))
}
