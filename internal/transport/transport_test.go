package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestEncode(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	r := Reading{X: 0.123456, Y: -1, Z: 2.7, Timestamp: ts}

	tests := []struct {
		format Format
		want   string
	}{
		{FormatCSV, "0.1235,-1.0000"},
		{"", "0.1235,-1.0000"},
		{FormatSpaced, "0.1235 -1.0000 2.7000"},
		{FormatTimestamped, "1700000000123 0.1235 -1.0000 2.7000"},
	}
	for _, tt := range tests {
		got, err := Encode(tt.format, r)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got), "format %q", tt.format)
	}

	_, err := Encode("yaml", r)
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Reading
		format  Format
		wantErr bool
	}{
		{name: "CSV", payload: "0.5000,-0.2500", want: Reading{X: 0.5, Y: -0.25}, format: FormatCSV},
		{name: "CSV with newline", payload: "1,2\n", want: Reading{X: 1, Y: 2}, format: FormatCSV},
		{name: "Spaced", payload: "0.1 0.2 0.3", want: Reading{X: 0.1, Y: 0.2, Z: 0.3}, format: FormatSpaced},
		{
			name:    "Timestamped",
			payload: "1700000000123 0.1 0.2 0.3",
			want:    Reading{X: 0.1, Y: 0.2, Z: 0.3, Timestamp: time.UnixMilli(1700000000123)},
			format:  FormatTimestamped,
		},
		{name: "Three CSV fields", payload: "1,2,3", wantErr: true},
		{name: "Garbage", payload: "hello", wantErr: true},
		{name: "Bad number", payload: "a b c", wantErr: true},
		{name: "Bad timestamp", payload: "x 1 2 3", wantErr: true},
		{name: "Empty", payload: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, f, err := Decode([]byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.format, f)
			assert.InDelta(t, tt.want.X, got.X, 1e-9)
			assert.InDelta(t, tt.want.Y, got.Y, 1e-9)
			assert.InDelta(t, tt.want.Z, got.Z, 1e-9)
			assert.True(t, tt.want.Timestamp.Equal(got.Timestamp))
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("CSV")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseFormat("protobuf")
	assert.Error(t, err)
}

func TestSenderLoopback(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Reading, 4)
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, conn, 0, quietLogger(), func(r Reading, f Format, from *net.UDPAddr, err error) {
			if err == nil && f == FormatCSV {
				received <- r
			}
		})
	}()

	sender, err := NewSender("127.0.0.1", port, FormatCSV, quietLogger())
	require.NoError(t, err)
	defer sender.Close()

	require.NoError(t, sender.Send(Reading{X: 0.25, Y: -0.75}))

	select {
	case r := <-received:
		assert.InDelta(t, 0.25, r.X, 1e-9)
		assert.InDelta(t, -0.75, r.Y, 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
	assert.Equal(t, SenderStats{Sent: 1}, sender.Stats())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestNewSenderBadAddress(t *testing.T) {
	_, err := NewSender("127.0.0.1", 70000, FormatCSV, quietLogger())
	assert.Error(t, err)
}
