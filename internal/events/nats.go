package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "envgrid"

// NATS publishes each event as JSON on <prefix>.<type>.
type NATS struct {
	conn   *nats.Conn
	prefix string
	logger *log.Logger
}

func DialNATS(url, prefix string, logger *log.Logger) (*NATS, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = log.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("envgrid-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATS{conn: conn, prefix: prefix, logger: logger}, nil
}

func (n *NATS) Subject(t Type) string { return n.prefix + "." + string(t) }

// Publish hands the message to the client's write buffer; it does not wait
// for the server.
func (n *NATS) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		n.logger.Printf("events: marshal %s: %v", e.Type, err)
		return
	}
	if err := n.conn.Publish(n.Subject(e.Type), b); err != nil {
		n.logger.Printf("events: publish %s: %v", e.Type, err)
	}
}

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() error {
	if err := n.conn.FlushTimeout(2 * time.Second); err != nil {
		n.conn.Close()
		return err
	}
	n.conn.Close()
	return nil
}

// Embedded is an in-process NATS server for single-host setups and tests.
type Embedded struct {
	ns *server.Server
}

// StartEmbedded starts a NATS server on host:port. Port -1 picks a free one.
func StartEmbedded(host string, port int, startupTimeout time.Duration) (*Embedded, error) {
	ns, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("nats server: %w", err)
	}
	ns.Start()
	if !ns.ReadyForConnections(startupTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready for connections")
	}
	return &Embedded{ns: ns}, nil
}

func (e *Embedded) ClientURL() string { return e.ns.ClientURL() }

func (e *Embedded) Shutdown() {
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
