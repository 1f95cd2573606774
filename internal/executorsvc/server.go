package executorsvc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
	"github.com/aqueducts/aqueducts/internal/pipeline"
	"github.com/aqueducts/aqueducts/internal/progress"
	"github.com/aqueducts/aqueducts/internal/protocol"
)

// Server is the executor's HTTP front door: a WebSocket endpoint for
// remote clients to submit pipelines and stream progress, a Prometheus
// endpoint, and a health check, generalizing the teacher's server.Server
// (mux + Hub + JobManager wiring) from a single metrics broadcast to a
// per-client request/response protocol session.
type Server struct {
	svc        *Service
	apiKey     string
	executorID string
	logger     zerolog.Logger
	srv        *http.Server
}

// protocolVersion is advertised in every Welcome message.
const protocolVersion = "1"

// NewServer builds a Server around an already-constructed Service. An
// empty apiKey disables the X-API-Key check entirely.
func NewServer(svc *Service, apiKey string, logger zerolog.Logger) *Server {
	return &Server{
		svc:        svc,
		apiKey:     apiKey,
		executorID: uuid.NewString(),
		logger:     logger.With().Str("component", "executor-http").Logger(),
	}
}

// handler builds the executor's HTTP mux: the WebSocket endpoint, a
// Prometheus scrape endpoint, and a health check.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/health", s.handleHealth)
	return mux
}

// Start begins serving on addr and blocks until ctx is cancelled or the
// server fails.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.handler(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	s.logger.Info().Str("addr", addr).Msg("starting executor http server")

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.srv.Close()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// session is one connected client's WebSocket conversation: at most one
// active run per session, matching how the executor's single slot is
// shared across all connected clients.
type session struct {
	conn   *websocket.Conn
	logger zerolog.Logger
	svc    *Service
	server *Server

	runID string
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(protocol.RunRejected{Reason: protocol.ReasonUnauthenticated})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Err(err).Msg("ws accept")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sess := &session{conn: conn, logger: s.logger, svc: s.svc, server: s}
	sess.serve(r.Context())
}

func (sess *session) serve(ctx context.Context) {
	for {
		_, data, err := sess.conn.Read(ctx)
		if err != nil {
			if sess.runID != "" {
				sess.svc.Cancel(sess.runID)
			}
			return
		}

		var req protocol.ExecuteRequest
		typ, err := protocol.Decode(data, &req)
		if err != nil {
			sess.logger.Warn().Err(err).Msg("malformed envelope")
			continue
		}

		switch typ {
		case protocol.TypeHello:
			var hello protocol.Hello
			_, _ = protocol.Decode(data, &hello)
			sess.send(ctx, protocol.TypeWelcome, protocol.Welcome{
				ExecutorID:      sess.server.executorID,
				ProtocolVersion: protocolVersion,
			})
		case protocol.TypePing:
			sess.send(ctx, protocol.TypePong, struct{}{})
		case protocol.TypeExecuteRequest:
			sess.handleExecute(ctx, req)
		case protocol.TypeCancelRequest:
			var cancelReq protocol.CancelRequest
			if _, err := protocol.Decode(data, &cancelReq); err == nil {
				sess.svc.Cancel(cancelReq.RunID)
			}
		default:
			sess.logger.Warn().Str("type", string(typ)).Msg("unhandled message type")
		}
	}
}

func (sess *session) handleExecute(ctx context.Context, req protocol.ExecuteRequest) {
	format, err := pipelineFormat(req.Format)
	if err != nil {
		sess.send(ctx, protocol.TypeRunRejected, protocol.RunRejected{RunID: req.RunID, Reason: err.Error()})
		return
	}

	p, err := pipeline.Parse(req.Document, format, req.Vars)
	if err != nil {
		sess.send(ctx, protocol.TypeRunRejected, protocol.RunRejected{RunID: req.RunID, Reason: aqerrors.RedactError(err)})
		return
	}

	j, pos, err := sess.svc.SubmitPipeline(p)
	if err != nil {
		rej := protocol.RunRejected{RunID: req.RunID, Reason: aqerrors.RedactError(err)}
		if errors.Is(err, ErrQueueFull) {
			rej.Reason = protocol.ReasonQueueFull
		}
		sess.send(ctx, protocol.TypeRunRejected, rej)
		return
	}
	sess.runID = j.runID

	sess.send(ctx, protocol.TypeRunAccepted, protocol.RunAccepted{RunID: j.runID, QueuePos: pos})

	ch := j.bridge.Subscribe()
	defer j.bridge.Unsubscribe(ch)

	for {
		select {
		case pos := <-j.posCh:
			sess.send(ctx, protocol.TypeQueuePosition, protocol.QueuePosition{RunID: j.runID, Position: pos})
		case ev, ok := <-ch:
			if !ok {
				return
			}
			sess.send(ctx, protocol.TypeProgress, eventToWire(j.runID, ev))
		case <-j.done:
			drainRemaining(ch, func(ev progress.Event) {
				sess.send(ctx, protocol.TypeProgress, eventToWire(j.runID, ev))
			})
			sess.send(ctx, protocol.TypeRunResult, resultToWire(j))
			return
		case <-ctx.Done():
			return
		}
	}
}

func drainRemaining(ch chan progress.Event, fn func(progress.Event)) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fn(ev)
		default:
			return
		}
	}
}

func (sess *session) send(ctx context.Context, typ protocol.MessageType, payload any) {
	data, err := protocol.Encode(typ, payload)
	if err != nil {
		sess.logger.Err(err).Msg("encode outbound message")
		return
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sess.conn.Write(wctx, websocket.MessageText, data); err != nil {
		sess.logger.Debug().Err(err).Msg("ws write failed, client likely gone")
	}
}

func pipelineFormat(f string) (pipeline.Format, error) {
	switch pipeline.Format(f) {
	case pipeline.FormatYAML, pipeline.FormatJSONDoc, pipeline.FormatTOML:
		return pipeline.Format(f), nil
	default:
		return "", aqerrors.Newf(aqerrors.Config, "execute-request", "unsupported format %q", f)
	}
}

func eventToWire(runID string, ev progress.Event) protocol.ProgressEvent {
	out := protocol.ProgressEvent{RunID: runID, Kind: string(ev.Kind), Name: ev.Name, RowCount: ev.RowCount}
	if ev.Err != nil {
		out.Message = aqerrors.RedactError(ev.Err)
	}
	return out
}

func resultToWire(j *job) protocol.RunResult {
	if j.result == nil {
		return protocol.RunResult{RunID: j.runID, Success: true}
	}
	return protocol.RunResult{
		RunID:    j.runID,
		Success:  false,
		Error:    aqerrors.RedactError(j.result),
		Category: string(aqerrors.CategoryOf(j.result)),
	}
}
