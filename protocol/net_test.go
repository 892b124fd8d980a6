package protocol

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/drpcorg/replay/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// echoSession feeds back every record it drains.
type echoSession struct {
	pipe chan Records
	once sync.Once
	done chan struct{}
}

func newEchoSession() *echoSession {
	return &echoSession{
		pipe: make(chan Records, 16),
		done: make(chan struct{}),
	}
}

func (s *echoSession) Feed(ctx context.Context) (Records, error) {
	select {
	case recs := <-s.pipe:
		return recs, nil
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *echoSession) Drain(ctx context.Context, recs Records) error {
	select {
	case s.pipe <- recs:
		return nil
	case <-s.done:
		return io.EOF
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *echoSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// collectSession feeds queued records once and collects whatever comes back.
type collectSession struct {
	out  chan Records
	got  chan Records
	once sync.Once
	done chan struct{}
}

func newCollectSession() *collectSession {
	return &collectSession{
		out:  make(chan Records, 16),
		got:  make(chan Records, 16),
		done: make(chan struct{}),
	}
}

func (s *collectSession) Feed(ctx context.Context) (Records, error) {
	select {
	case recs := <-s.out:
		return recs, nil
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *collectSession) Drain(ctx context.Context, recs Records) error {
	select {
	case s.got <- recs:
		return nil
	case <-s.done:
		return io.EOF
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *collectSession) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func TestNetEcho(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := utils.NewDefaultLogger(slog.LevelError)
	addr := "tcp://127.0.0.1:33768"

	ctx, cancel := context.WithCancel(context.Background())

	server := newEchoSession()
	snet := NewNet(log, nil,
		func(_ string) FeedDrainCloser { return server },
		func(_ string) {},
	)
	require.NoError(t, snet.Listen(ctx, addr))

	client := newCollectSession()
	cnet := NewNet(log, nil,
		func(_ string) FeedDrainCloser { return client },
		func(_ string) {},
	)
	require.NoError(t, cnet.Connect(ctx, addr))

	sent := Records{Record('M', []byte("ping"))}
	client.out <- sent

	select {
	case got := <-client.got:
		assert.Equal(t, sent, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no echo within 5s")
	}

	cancel()
	assert.NoError(t, cnet.Close())
	assert.NoError(t, snet.Close())
	_ = client.Close()
	_ = server.Close()
}

func TestNetDoubleListen(t *testing.T) {
	log := utils.NewDefaultLogger(slog.LevelError)
	addr := "tcp://127.0.0.1:33769"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := NewNet(log, nil,
		func(_ string) FeedDrainCloser { return newEchoSession() },
		func(_ string) {},
	)
	require.NoError(t, n.Listen(ctx, addr))
	assert.ErrorIs(t, n.Listen(ctx, addr), ErrAddressDuplicated)

	assert.NoError(t, n.Connect(ctx, addr))
	assert.ErrorIs(t, n.Connect(ctx, addr), ErrAddressDuplicated)

	cancel()
	assert.NoError(t, n.Close())
}

func TestParseAddr(t *testing.T) {
	ct, address, err := parseAddr("tcp://127.0.0.1:1234")
	assert.NoError(t, err)
	assert.Equal(t, TCP, ct)
	assert.Equal(t, "127.0.0.1:1234", address)

	ct, address, err = parseAddr("tls://example.com:443")
	assert.NoError(t, err)
	assert.Equal(t, TLS, ct)
	assert.Equal(t, "example.com:443", address)

	_, _, err = parseAddr("quic://nope:1")
	assert.ErrorIs(t, err, ErrAddressInvalid)
}
