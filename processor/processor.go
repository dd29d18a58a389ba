package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"flowScope/collector"
	"flowScope/converter"
	"flowScope/metrics"
	"flowScope/protocol"
)

// renderFailedMessage is sent to clients when a session cannot be rendered.
const renderFailedMessage = "Failed to create flamegraph"

// pushTimeout bounds a background Pyroscope upload.
const pushTimeout = time.Minute

// New creates a Processor for conn. The connection starts without a session.
func New(conn net.Conn, config Config) *Processor {
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	if config.Renderer == nil {
		config.Renderer = &converter.PprofRenderer{Unit: config.Unit}
	}
	return &Processor{
		conn:   conn,
		config: config,
		log:    log,
	}
}

// Process runs the request/response loop until the client disconnects, a
// transport error occurs or a request poisons the connection. A clean
// disconnect returns nil.
func (p *Processor) Process(ctx context.Context) error {
	for {
		if err := p.handleClientRequest(ctx); err != nil {
			if errors.Is(err, io.EOF) || (ctx.Err() != nil && errors.Is(err, net.ErrClosed)) {
				p.log.Info("connection closed")
				return nil
			}
			p.log.Error("error handling client request", "error", err)
			return err
		}
	}
}

// Session returns the current profiling session, nil when none is open.
func (p *Processor) Session() *collector.Session {
	return p.session
}

// handleClientRequest reads one request, processes it and writes the
// response, if any. Requests that fail to decode are dropped.
func (p *Processor) handleClientRequest(ctx context.Context) error {
	if p.config.IdleTimeout > 0 {
		if err := p.conn.SetReadDeadline(time.Now().Add(p.config.IdleTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}

	req, err := protocol.ReadRequest(p.conn, p.config.MaxFrameBytes)
	if err != nil {
		if errors.Is(err, protocol.ErrMalformed) {
			p.log.Debug("dropping request", "error", err)
			if m := p.config.Metrics; m != nil {
				m.RequestsDropped.Inc()
			}
			return nil
		}
		return err
	}
	if m := p.config.Metrics; m != nil {
		m.Requests.WithLabelValues(req.RequestType()).Inc()
	}

	resp, err := p.processRequest(ctx, req)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return protocol.WriteResponse(p.conn, resp)
}

// processRequest applies req to the connection state. The returned error
// is fatal for the connection.
func (p *Processor) processRequest(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	switch r := req.(type) {
	case protocol.ProfilerStart:
		flow := ""
		if r.FlowName != nil {
			flow = *r.FlowName
		}
		p.log.Info("profiler start", "identifier", r.Identifier, "flow", flow)
		p.session = collector.NewSession(r.Identifier, r.FlowName, p.log)

	case protocol.LogMessage:
		if p.session == nil {
			return nil, nil
		}
		forwarded, err := p.session.HandleLine(r.Message, r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("log message: %w", err)
		}
		if m := p.config.Metrics; m != nil && forwarded {
			m.Activities.Inc()
		}

	case protocol.ProfilerEnd:
		p.log.Info("profiler end", "save", r.Save)
		session := p.session
		p.session = nil
		if session == nil || !r.Save {
			return nil, nil
		}
		return p.render(ctx, session), nil
	}

	return nil, nil
}

// render exports the finished executions of session and renders them.
func (p *Processor) render(ctx context.Context, session *collector.Session) protocol.Response {
	var collapsed bytes.Buffer
	content, err := p.renderSession(session, &collapsed)
	if err != nil {
		p.log.Error("failed to create flamegraph", "identifier", session.Identifier, "error", err)
		if m := p.config.Metrics; m != nil {
			m.Renders.WithLabelValues(metrics.ResultError).Inc()
		}
		return protocol.ErrorResponse{
			Identifier: session.Identifier,
			Message:    renderFailedMessage,
		}
	}

	if m := p.config.Metrics; m != nil {
		m.Renders.WithLabelValues(metrics.ResultOK).Inc()
		m.RenderBytes.Observe(float64(len(content)))
	}
	p.log.Info("flamegraph created", "identifier", session.Identifier, "bytes", len(content))

	if p.config.Sender != nil {
		p.push(ctx, session.Identifier, collapsed.Bytes())
	}

	return protocol.FileResponse{
		Identifier: session.Identifier,
		Content:    content,
	}
}

func (p *Processor) renderSession(session *collector.Session, collapsed *bytes.Buffer) ([]byte, error) {
	lines, err := converter.WriteCollapsed(collapsed, session)
	if err != nil {
		return nil, err
	}
	p.log.Debug("collapsed stacks exported", "identifier", session.Identifier, "lines", lines)
	return p.config.Renderer.Render(collapsed.Bytes())
}

// push uploads the session profile to Pyroscope in the background so the
// client does not wait on it. A Server waits for the upload on shutdown.
func (p *Processor) push(ctx context.Context, identifier string, collapsed []byte) {
	stacks, err := converter.ParseCollapsed(bytes.NewReader(collapsed))
	if err != nil {
		p.log.Error("pyroscope push skipped", "identifier", identifier, "error", err)
		return
	}
	prof, err := (&converter.PprofRenderer{Unit: p.config.Unit}).Profile(stacks)
	if err != nil {
		p.log.Error("pyroscope push skipped", "identifier", identifier, "error", err)
		return
	}

	log := p.log
	s := p.config.Sender
	wg := p.config.background
	if wg != nil {
		wg.Add(1)
	}
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		if err := s.SendProfile(pushCtx, prof, map[string]string{"session": identifier}); err != nil {
			log.Error("pyroscope push failed", "identifier", identifier, "error", err)
		}
	}()
}
