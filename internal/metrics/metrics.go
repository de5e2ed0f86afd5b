// Package metrics exposes the process-wide counters named in
// spec.md §6 via github.com/VictoriaMetrics/metrics, the teacher's
// metrics dependency. All counters are process-global singletons,
// matching the "Global state" design note in spec.md §9: components
// take no metrics collaborator, they just call these functions.
package metrics

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

var (
	wsConnectionsTotal   = metrics.NewCounter("certstream_ws_connections_total")
	wsConnectionsFull    = metrics.NewCounter("certstream_ws_connections_full")
	wsConnectionsLite    = metrics.NewCounter("certstream_ws_connections_lite")
	wsConnectionsDomains = metrics.NewCounter("certstream_ws_connections_domains")
	sseConnections       = metrics.NewCounter("certstream_sse_connections")
	tcpConnections       = metrics.NewCounter("certstream_tcp_connections")
	ctLogsCount          = metrics.NewCounter("certstream_ct_logs_count")
	messagesSent         = metrics.NewCounter("certstream_messages_sent")
	wsMessagesLagged     = metrics.NewCounter("certstream_ws_messages_lagged")
)

// WSConnected records a new websocket connection of the given stream
// variant ("full", "lite", "domains").
func WSConnected(variant string) {
	wsConnectionsTotal.Inc()
	switch variant {
	case "full":
		wsConnectionsFull.Inc()
	case "domains":
		wsConnectionsDomains.Inc()
	default:
		wsConnectionsLite.Inc()
	}
}

// WSDisconnected undoes WSConnected's per-variant increment.
func WSDisconnected(variant string) {
	wsConnectionsTotal.Dec()
	switch variant {
	case "full":
		wsConnectionsFull.Dec()
	case "domains":
		wsConnectionsDomains.Dec()
	default:
		wsConnectionsLite.Dec()
	}
}

func SSEConnected()    { sseConnections.Inc() }
func SSEDisconnected() { sseConnections.Dec() }
func TCPConnected()    { tcpConnections.Inc() }
func TCPDisconnected() { tcpConnections.Dec() }

// SetCTLogsCount reports the current number of actively-watched logs.
func SetCTLogsCount(n int) { ctLogsCount.Set(uint64(n)) }

// MessageSent counts one message delivered to one subscriber.
func MessageSent() { messagesSent.Inc() }

// MessageLagged counts one lag event: a slow subscriber found one or
// more messages dropped from under it. It does not count the number
// of messages dropped.
func MessageLagged() { wsMessagesLagged.Inc() }

// WritePrometheus writes the Prometheus text-exposition format to w,
// serving GET /metrics (spec.md §6).
func WritePrometheus(w io.Writer) {
	metrics.WritePrometheus(w, true)
}

// DebugString renders all registered metrics; useful in tests.
func DebugString() string {
	var sb fmtStringWriter
	WritePrometheus(&sb)
	return sb.String()
}

type fmtStringWriter struct{ buf []byte }

func (s *fmtStringWriter) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *fmtStringWriter) String() string { return fmt.Sprintf("%s", s.buf) }
