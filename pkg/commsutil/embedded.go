package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
)

const embeddedLogPrefix = "commsutil:embedded"

// StartEmbedded starts an in-process COMMS server on host:port. A port of -1
// picks a random free port. The caller owns shutdown.
func StartEmbedded(host string, port int) (*commsserver.Server, error) {
	opts := &commsserver.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := commsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create server: %w", embeddedLogPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("%s - server not ready for connections", embeddedLogPrefix)
	}

	slog.Info(fmt.Sprintf("%s - Embedded COMMS server listening at %s", embeddedLogPrefix, ns.ClientURL()))
	return ns, nil
}
