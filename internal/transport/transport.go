// Package transport ships stabilized coordinates to a consumer process as
// single UDP datagrams. Delivery is fire-and-forget: nothing is acknowledged
// or retried.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrMalformedPayload is returned by Decode for datagrams it can't parse.
var ErrMalformedPayload = errors.New("malformed payload")

// Format selects the text layout of a datagram.
type Format string

const (
	// FormatCSV is "x,y" with four decimals.
	FormatCSV Format = "csv"
	// FormatSpaced is "x y z" with four decimals.
	FormatSpaced Format = "spaced"
	// FormatTimestamped is "<unix ms> x y z".
	FormatTimestamped Format = "timestamped"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatCSV, FormatSpaced, FormatTimestamped:
		return f, nil
	}
	return "", fmt.Errorf("unknown payload format %q (use csv, spaced or timestamped)", s)
}

// Reading is one normalized position ready to send.
type Reading struct {
	X, Y, Z   float64
	Timestamp time.Time
}

// Encode renders r in the given format.
func Encode(f Format, r Reading) ([]byte, error) {
	switch f {
	case FormatCSV, "":
		return []byte(fmt.Sprintf("%.4f,%.4f", r.X, r.Y)), nil
	case FormatSpaced:
		return []byte(fmt.Sprintf("%.4f %.4f %.4f", r.X, r.Y, r.Z)), nil
	case FormatTimestamped:
		return []byte(fmt.Sprintf("%d %.4f %.4f %.4f", r.Timestamp.UnixMilli(), r.X, r.Y, r.Z)), nil
	}
	return nil, fmt.Errorf("unknown payload format %q", f)
}

// Decode parses a datagram produced by Encode and reports which format it used.
func Decode(payload []byte) (Reading, Format, error) {
	text := string(bytes.TrimSpace(payload))
	if strings.Contains(text, ",") {
		vals, err := parseFloats(strings.Split(text, ","))
		if err != nil || len(vals) != 2 {
			return Reading{}, "", fmt.Errorf("%w: %q", ErrMalformedPayload, text)
		}
		return Reading{X: vals[0], Y: vals[1]}, FormatCSV, nil
	}

	fields := strings.Fields(text)
	switch len(fields) {
	case 3:
		vals, err := parseFloats(fields)
		if err != nil {
			return Reading{}, "", fmt.Errorf("%w: %q", ErrMalformedPayload, text)
		}
		return Reading{X: vals[0], Y: vals[1], Z: vals[2]}, FormatSpaced, nil
	case 4:
		ms, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return Reading{}, "", fmt.Errorf("%w: bad timestamp in %q", ErrMalformedPayload, text)
		}
		vals, err := parseFloats(fields[1:])
		if err != nil {
			return Reading{}, "", fmt.Errorf("%w: %q", ErrMalformedPayload, text)
		}
		return Reading{X: vals[0], Y: vals[1], Z: vals[2], Timestamp: time.UnixMilli(ms)}, FormatTimestamped, nil
	}
	return Reading{}, "", fmt.Errorf("%w: %q", ErrMalformedPayload, text)
}

func parseFloats(parts []string) ([]float64, error) {
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// SenderStats counts datagrams since the sender was created.
type SenderStats struct {
	Sent   int64
	Failed int64
}

// Sender writes readings to a fixed UDP destination.
type Sender struct {
	conn    *net.UDPConn
	format  Format
	address string
	log     logrus.FieldLogger
	sent    atomic.Int64
	failed  atomic.Int64
}

// NewSender dials the destination. UDP dialing does not contact the peer, so
// this only fails on bad addresses.
func NewSender(host string, port int, format Format, log logrus.FieldLogger) (*Sender, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create udp connection: %w", err)
	}
	if format == "" {
		format = FormatCSV
	}
	return &Sender{conn: conn, format: format, address: address, log: log}, nil
}

// Send writes one datagram. A failed write is logged and counted; the caller
// keeps going with the next frame.
func (s *Sender) Send(r Reading) error {
	payload, err := Encode(s.format, r)
	if err != nil {
		return err
	}
	if _, err := s.conn.Write(payload); err != nil {
		s.failed.Add(1)
		s.log.WithError(err).WithField("address", s.address).Debug("udp send failed")
		return err
	}
	s.sent.Add(1)
	return nil
}

// Address is the host:port datagrams are sent to.
func (s *Sender) Address() string { return s.address }

// Stats returns the sent and failed counts so far.
func (s *Sender) Stats() SenderStats {
	return SenderStats{Sent: s.sent.Load(), Failed: s.failed.Load()}
}

// Close closes the UDP connection.
func (s *Sender) Close() error { return s.conn.Close() }

// Handler receives each decoded datagram. Undecodable payloads arrive with a non-nil err.
type Handler func(r Reading, f Format, from *net.UDPAddr, err error)

// Listen receives datagrams on addr until ctx is cancelled. Every interval it
// logs the packet rate when packets arrived.
func Listen(ctx context.Context, addr string, interval time.Duration, log logrus.FieldLogger, h Handler) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	return Serve(ctx, conn, interval, log, h)
}

// Serve runs the receive loop on an existing socket and closes it on return.
func Serve(ctx context.Context, conn *net.UDPConn, interval time.Duration, log logrus.FieldLogger, h Handler) error {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	var packets atomic.Int64
	if interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := packets.Swap(0); n > 0 {
						log.WithField("packets_per_sec", float64(n)/interval.Seconds()).Info("receiving")
					}
				}
			}
		}()
	}

	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.WithError(err).Warn("udp read error")
			continue
		}
		packets.Add(1)
		r, f, err := Decode(buf[:n])
		h(r, f, from, err)
	}
}
