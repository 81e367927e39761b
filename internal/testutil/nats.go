package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// StartJetStream starts an embedded NATS server with JetStream enabled on a
// random port. The server and connection are closed when the test ends.
func StartJetStream(t *testing.T) (*nats.Conn, nats.JetStreamContext) {
	t.Helper()

	s, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      server.RANDOM_PORT,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatal("Unable to start NATS server")
	}

	nc, err := nats.Connect(s.ClientURL(), nats.Timeout(5*time.Second))
	require.NoError(t, err)

	js, err := nc.JetStream(nats.MaxWait(5 * time.Second))
	require.NoError(t, err)

	t.Cleanup(func() {
		nc.Close()
		s.Shutdown()
	})
	return nc, js
}

// Collector gathers messages published on a subject
type Collector struct {
	mu       sync.Mutex
	messages []*nats.Msg
}

// Collect subscribes to subject on the core connection and records every message
func Collect(t *testing.T, nc *nats.Conn, subject string) *Collector {
	t.Helper()

	c := &Collector{}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		c.mu.Lock()
		c.messages = append(c.messages, msg)
		c.mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
	t.Cleanup(func() { sub.Unsubscribe() })
	return c
}

// Messages returns a copy of the messages received so far
func (c *Collector) Messages() []*nats.Msg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*nats.Msg(nil), c.messages...)
}

// WaitFor waits until at least n messages have arrived
func (c *Collector) WaitFor(t *testing.T, n int, timeout time.Duration) []*nats.Msg {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(c.Messages()) >= n
	}, timeout, 10*time.Millisecond)
	return c.Messages()
}
