package ami

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newPipe returns a client-side net.Conn for the Client under test and the
// corresponding server-side net.Conn the test drives directly, standing in
// for the Asterisk server.
func newPipe(t *testing.T) (clientSide net.Conn, serverSide net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func mustReadFrame(t *testing.T, r *bufio.Reader) *Message {
	t.Helper()
	var payload []byte
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		payload = append(payload, line...)
		if line == "\r\n" {
			break
		}
	}
	msg, err := FromBytes(payload)
	require.NoError(t, err)
	return msg
}

func TestClient_S1_HandshakeFailure(t *testing.T) {
	clientSide, serverSide := newPipe(t)

	go serverSide.Write([]byte("HTTP/1.1 200 OK\r\n"))

	c := NewClient()
	err := c.Start(clientSide)
	require.Error(t, err)
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)

	_, pubErr := c.Publish(NewMessage("Ping"))
	require.ErrorIs(t, pubErr, ErrNotStarted)
}

func TestClient_S2_SimpleRequestResponse(t *testing.T) {
	clientSide, serverSide := newPipe(t)
	r := bufio.NewReader(serverSide)

	go serverSide.Write([]byte("Asterisk Call Manager/1.1\r\n"))

	c := NewClient()
	require.NoError(t, c.Start(clientSide))

	var resp *Message
	var pubErr error
	done := make(chan struct{})
	go func() {
		resp, pubErr = c.Publish(NewMessage("Ping", "ActionID", "X"))
		close(done)
	}()

	req := mustReadFrame(t, r)
	require.Equal(t, "X", req.ActionID())

	_, err := serverSide.Write([]byte("Response: Success\r\nActionID: X\r\nMessage: ok\r\n\r\n"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish did not return")
	}
	require.NoError(t, pubErr)
	require.Equal(t, "Success", resp.Get("Response"))
	require.Equal(t, "ok", resp.Get("Message"))
}

func TestClient_S3_ResponseVsEventDiscrimination(t *testing.T) {
	clientSide, serverSide := newPipe(t)
	r := bufio.NewReader(serverSide)

	go serverSide.Write([]byte("Asterisk Call Manager/1.1\r\n"))

	c := NewClient()
	require.NoError(t, c.Start(clientSide))

	sub := &recordingSubscriber{}
	_, err := c.Subscribe(sub)
	require.NoError(t, err)

	var resp *Message
	done := make(chan struct{})
	go func() {
		resp, _ = c.Publish(NewMessage("PJSIPShowEndpoints", "ActionID", "A"))
		close(done)
	}()

	_ = mustReadFrame(t, r)
	_, err = serverSide.Write([]byte(
		"Response: Success\r\nActionID: A\r\n\r\n" +
			"Event: EndpointList\r\nActionID: A\r\nObjectName: 1101\r\n\r\n" +
			"Event: EndpointListComplete\r\nActionID: A\r\n\r\n",
	))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish did not return")
	}
	require.Equal(t, "Success", resp.Get("Response"))

	require.Eventually(t, func() bool {
		events, _, _ := sub.snapshot()
		return len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	events, _, _ := sub.snapshot()
	require.Equal(t, []string{"EndpointList", "EndpointListComplete"}, events)
}

func TestClient_S4_DuplicateActionID(t *testing.T) {
	clientSide, serverSide := newPipe(t)
	r := bufio.NewReader(serverSide)

	go serverSide.Write([]byte("Asterisk Call Manager/1.1\r\n"))

	c := NewClient()
	require.NoError(t, c.Start(clientSide))

	firstDone := make(chan struct{})
	go func() {
		c.Publish(NewMessage("Ping", "ActionID", "Z"))
		close(firstDone)
	}()
	_ = mustReadFrame(t, r)

	_, err := c.Publish(NewMessage("Ping", "ActionID", "Z"))
	var dup *DuplicateActionIDError
	require.ErrorAs(t, err, &dup)

	_, werr := serverSide.Write([]byte("Response: Success\r\nActionID: Z\r\n\r\n"))
	require.NoError(t, werr)
	<-firstDone
}

func TestClient_S5_MidFlightEOF(t *testing.T) {
	clientSide, serverSide := newPipe(t)
	r := bufio.NewReader(serverSide)

	go serverSide.Write([]byte("Asterisk Call Manager/1.1\r\n"))

	c := NewClient()
	require.NoError(t, c.Start(clientSide))

	var stopCauses []error
	var mu sync.Mutex
	c.Stopped = func(cause error) {
		mu.Lock()
		stopCauses = append(stopCauses, cause)
		mu.Unlock()
	}

	var pubErr error
	done := make(chan struct{})
	go func() {
		_, pubErr = c.Publish(NewMessage("Ping", "ActionID", "Q"))
		close(done)
	}()

	_ = mustReadFrame(t, r)
	serverSide.Close() // close: EOF with nothing pending mid-frame

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish did not return")
	}
	var cancelled *CancelledError
	require.ErrorAs(t, pubErr, &cancelled)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stopCauses, 1)
	require.Nil(t, stopCauses[0])
}

func TestClient_S6_ConcurrentPublishers(t *testing.T) {
	clientSide, serverSide := newPipe(t)
	r := bufio.NewReader(serverSide)

	go serverSide.Write([]byte("Asterisk Call Manager/1.1\r\n"))

	c := NewClient()
	require.NoError(t, c.Start(clientSide))

	const n = 100
	results := make([]*Message, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id := actionIDFor(i)
			results[i], errs[i] = c.Publish(NewMessage("Ping", "ActionID", id))
		}(i)
	}

	// Echo back a Success response for every request observed, one frame at
	// a time: the write lock guarantees no interleaving within a frame.
	go func() {
		for i := 0; i < n; i++ {
			req := mustReadFrame(t, r)
			serverSide.Write([]byte("Response: Success\r\nActionID: " + req.ActionID() + "\r\n\r\n"))
		}
	}()

	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, actionIDFor(i), results[i].ActionID())
	}
}

func actionIDFor(i int) string {
	return fmt.Sprintf("id-%03d", i)
}
