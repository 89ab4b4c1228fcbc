package pool

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexforster/goami/internal/ami"
)

// fakeServer accepts connections, writes the AMI banner on each, then answers
// every action it receives with a Success response carrying that action's
// ActionID.
func fakeServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_, _ = c.Write([]byte("Asterisk Call Manager/8.0.0\r\n"))
				fa := ami.NewFrameAssembler(ami.NewLineReader(c))
				for {
					req, err := fa.Next()
					if err != nil {
						return
					}
					_, _ = c.Write([]byte("Response: Success\r\nActionID: " + req.ActionID() + "\r\n\r\n"))
				}
			}(conn)
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func dialTCP(ctx context.Context, addr string) (ami.Stream, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func TestClientPool_AssignKeyStable(t *testing.T) {
	p, err := New(dialTCP, []string{"a:1", "b:2", "c:3"})
	require.NoError(t, err)

	first := p.AssignKey("queue-42")
	for i := 0; i < 10; i++ {
		require.Equal(t, first, p.AssignKey("queue-42"))
	}
}

func TestClientPool_StartPublishStop(t *testing.T) {
	addr1, stop1 := fakeServer(t)
	defer stop1()
	addr2, stop2 := fakeServer(t)
	defer stop2()

	p, err := New(dialTCP, []string{addr1, addr2})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	resp, err := p.Publish(ctx, "some-routing-key", ami.NewMessage("Ping"))
	require.NoError(t, err)
	require.Equal(t, "Success", resp.Get("Response"))
}

func TestClientPool_Broadcast(t *testing.T) {
	addr1, stop1 := fakeServer(t)
	defer stop1()
	addr2, stop2 := fakeServer(t)
	defer stop2()

	p, err := New(dialTCP, []string{addr1, addr2})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	results, errs := p.Broadcast(ami.NewMessage("Ping"))
	require.Len(t, results, 2)
	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "Success", results[i].Get("Response"))
	}
}

func TestClientPool_RequiresAtLeastOneAddress(t *testing.T) {
	_, err := New(dialTCP, nil)
	require.Error(t, err)
}
