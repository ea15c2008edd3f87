package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/wardenhq/warden/internal/logging"
)

// NatsMirror publishes each task event to a NATS subject so external
// observers can tap the stream without holding a websocket open.
type NatsMirror struct {
	conn    *nats.Conn
	subject string
	logger  *logging.Logger
}

// NewNatsMirror connects to a NATS server and mirrors events onto
// <prefix>.<taskID>.
func NewNatsMirror(url, prefix, taskID string, logger *logging.Logger) (*NatsMirror, error) {
	if logger == nil {
		logger = logging.New()
	}
	conn, err := nats.Connect(url, nats.Name("warden-events"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NatsMirror{
		conn:    conn,
		subject: fmt.Sprintf("%s.%s", prefix, taskID),
		logger:  logger.WithComponent("nats"),
	}, nil
}

// Publish sends the event as JSON. Failures are logged, not surfaced; the
// mirror is strictly best-effort.
func (m *NatsMirror) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		m.logger.Warn("event marshal failed", map[string]interface{}{"error": err})
		return
	}
	if err := m.conn.Publish(m.subject, data); err != nil {
		m.logger.Warn("event publish failed", map[string]interface{}{"error": err, "subject": m.subject})
	}
}

// Close flushes and drops the connection.
func (m *NatsMirror) Close() {
	m.conn.Flush()
	m.conn.Close()
}
