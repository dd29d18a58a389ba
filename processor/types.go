package processor

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"flowScope/collector"
	"flowScope/converter"
	"flowScope/metrics"
	"flowScope/sender"
)

// Config holds the configuration shared by all client connections
type Config struct {
	MaxFrameBytes uint32             // Largest accepted request payload
	IdleTimeout   time.Duration      // Read deadline per request, 0 disables it
	Renderer      converter.Renderer // Turns finished sessions into flame graph bytes
	Unit          string             // Unit of client timestamps
	Sender        *sender.Sender     // Optional Pyroscope push of saved sessions
	Metrics       *metrics.Metrics   // Optional
	Logger        *slog.Logger

	// background tracks Pyroscope uploads that outlive a request.
	background *sync.WaitGroup
}

// Processor handles the request stream of a single client connection.
// It exclusively owns the connection's current profiling session.
type Processor struct {
	conn    net.Conn
	config  Config
	session *collector.Session
	log     *slog.Logger
}

// Server accepts client connections and runs one Processor per connection.
type Server struct {
	config Config
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}
