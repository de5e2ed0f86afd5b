package web

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/certstream/certstream-core-go/internal/metrics"
)

const tcpVariantReadTimeout = 1 * time.Second

// handleTCPConn implements the raw-TCP framing of spec.md §4.8: the
// first byte (read non-blockingly with a 1s timeout) selects the
// stream variant - 'f' full, 'd' domains, anything else or a timeout
// defaults to lite. Thereafter frames are payload bytes followed by
// '\n'; the server never reads again after the variant byte.
func (s *Server) handleTCPConn(ctx context.Context, c net.Conn) {
	ip, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		ip = c.RemoteAddr().String()
	}

	token, admitErr := s.conn.Admit(ip)
	if admitErr != nil {
		c.Close()
		return
	}
	defer token.Release()
	defer c.Close()

	metrics.TCPConnected()
	defer metrics.TCPDisconnected()

	variant := readTCPVariant(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := s.bus.Subscribe()
	writer := bufio.NewWriter(c)

	for {
		t, readErr := sub.Read(ctx)
		if readErr != nil {
			return
		}

		payload := variantPayload(variant, t.Full, t.Lite, t.Domains)

		if _, writeErr := writer.Write(payload); writeErr != nil {
			return
		}

		if _, writeErr := writer.WriteString("\n"); writeErr != nil {
			return
		}

		if writeErr := writer.Flush(); writeErr != nil {
			return
		}

		metrics.MessageSent()
	}
}

func readTCPVariant(c net.Conn) string {
	_ = c.SetReadDeadline(time.Now().Add(tcpVariantReadTimeout))
	defer c.SetReadDeadline(time.Time{})

	buf := make([]byte, 1)

	n, err := c.Read(buf)
	if err != nil || n == 0 {
		return "lite"
	}

	switch buf[0] {
	case 'f':
		return "full"
	case 'd':
		return "domains"
	default:
		return "lite"
	}
}
