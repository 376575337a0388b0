package cluster

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	buf := Encode(7, 4321)
	require.Len(t, buf, announceLen)
	assert.Equal(t, byte('j'), buf[0])

	got, err := Decode(buf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint16(7), got[0].Jobs)
	assert.Equal(t, uint16(4321), got[0].TCPPort)
}

func TestDecodeMultipleRecords(t *testing.T) {
	buf := append(Encode(1, 100), Encode(2, 200)...)
	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDecodeRejectsBadHeader(t *testing.T) {
	buf := Encode(1, 100)
	buf[0] = 'x'
	_, err := Decode(buf)
	assert.Error(t, err)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	buf := append(Encode(1, 100), 0xAB, 0xCD)
	_, err := Decode(buf)
	assert.Error(t, err)
}

func TestConnectTimeZeroFailuresMeansNoWait(t *testing.T) {
	last := time.Now()
	assert.True(t, ConnectTime(last, 0).Equal(last))
}

func TestConnectTimeDoublesPerFailure(t *testing.T) {
	last := time.Unix(0, 0)
	assert.Equal(t, 1000*time.Millisecond, ConnectTime(last, 1).Sub(last))
	assert.Equal(t, 2000*time.Millisecond, ConnectTime(last, 2).Sub(last))
	assert.Equal(t, 4000*time.Millisecond, ConnectTime(last, 3).Sub(last))
}

type fakeConn struct {
	net.Conn
	written [][]byte
}

func (f *fakeConn) Write(b []byte) (int, error) {
	f.written = append(f.written, append([]byte(nil), b...))
	return len(b), nil
}
func (f *fakeConn) Close() error { return nil }

func TestForwardSetRetriesWithBackoffAndResetsOnSuccess(t *testing.T) {
	fs := NewForwardSet()
	attempts := 0
	fs.dial = func(host string, port uint16) (net.Conn, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("refused")
		}
		return &fakeConn{}, nil
	}

	assert.Error(t, fs.Add("h", 1))
	assert.False(t, fs.Connected("h", 1))

	// Force the backoff window open by rewinding lastAttempt.
	fs.mu.Lock()
	fs.forwards["h:1"].lastAttempt = time.Now().Add(-10 * time.Second)
	fs.mu.Unlock()
	fs.Reconnect()

	fs.mu.Lock()
	fs.forwards["h:1"].lastAttempt = time.Now().Add(-10 * time.Second)
	fs.mu.Unlock()
	fs.Reconnect()

	assert.True(t, fs.Connected("h", 1))
}

func TestForwardSkipsExcludedConnection(t *testing.T) {
	fs := NewForwardSet()
	a := &fakeConn{}
	b := &fakeConn{}
	fs.dial = func(host string, port uint16) (net.Conn, error) {
		if host == "a" {
			return a, nil
		}
		return b, nil
	}
	fs.Add("a", 1)
	fs.Add("b", 2)

	fs.Forward([]byte("hello"), a)

	assert.Empty(t, a.written)
	assert.Len(t, b.written, 1)
}
