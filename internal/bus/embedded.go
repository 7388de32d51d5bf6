package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/samcharles93/hearth/internal/logger"
)

const embeddedReadyTimeout = 5 * time.Second

// EmbeddedServer is a NATS server running inside the process, for single
// host deployments without a separate broker.
type EmbeddedServer struct {
	ns  *server.Server
	log logger.Logger
}

// StartEmbedded starts a server on host:port. A port of -1 picks a free
// one.
func StartEmbedded(host string, port int, log logger.Logger) (*EmbeddedServer, error) {
	if log == nil {
		log = logger.Discard()
	}
	if host == "" {
		host = "127.0.0.1"
	}
	opts := &server.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(embeddedReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start within %s", embeddedReadyTimeout)
	}

	log.Info("embedded NATS server started", "url", ns.ClientURL())
	return &EmbeddedServer{ns: ns, log: log}, nil
}

// URL is the client URL to connect to.
func (e *EmbeddedServer) URL() string {
	return e.ns.ClientURL()
}

func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
