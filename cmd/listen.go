package cmd

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/andresmejia3/parallax/internal/transport"
	"github.com/spf13/cobra"
)

var (
	listenAddr     string
	listenInterval time.Duration
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Receive and print coordinate datagrams (a stand-in for the scene consumer)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		addr := listenAddr
		if addr == "" {
			addr = net.JoinHostPort(Env.UDPHost, strconv.Itoa(Env.UDPPort))
		}
		Log.WithField("addr", addr).Info("listening")
		return transport.Listen(cmd.Context(), addr, listenInterval, Log, printReading(cmd.OutOrStdout()))
	},
}

func init() {
	listenCmd.Flags().StringVar(&listenAddr, "addr", "", "Address to listen on (default: $PARALLAX_UDP_HOST:$PARALLAX_UDP_PORT)")
	listenCmd.Flags().DurationVar(&listenInterval, "interval", time.Second, "How often the packet rate is logged (0 disables)")
	rootCmd.AddCommand(listenCmd)
}

// printReading writes one line per datagram in the layout it arrived in.
func printReading(w io.Writer) transport.Handler {
	return func(r transport.Reading, f transport.Format, from *net.UDPAddr, err error) {
		if err != nil {
			Log.WithError(err).WithField("from", from.String()).Warn("dropping datagram")
			return
		}
		switch f {
		case transport.FormatCSV:
			fmt.Fprintf(w, "x=%.4f y=%.4f\n", r.X, r.Y)
		case transport.FormatSpaced:
			fmt.Fprintf(w, "x=%.4f y=%.4f z=%.4f\n", r.X, r.Y, r.Z)
		case transport.FormatTimestamped:
			lag := time.Since(r.Timestamp).Round(time.Millisecond)
			fmt.Fprintf(w, "x=%.4f y=%.4f z=%.4f lag=%s\n", r.X, r.Y, r.Z, lag)
		}
	}
}
