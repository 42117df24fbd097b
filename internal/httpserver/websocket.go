package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/aiz-dev/hwtelemetry/internal/api"
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := s.loggerFromContext(r.Context())
	if s.sampler == nil {
		http.Error(w, "sampler unavailable", http.StatusServiceUnavailable)
		return
	}

	if !s.reserveWS() {
		reqLogger.Warn("websocket rejected", "reason", "capacity")
		http.Error(w, "websocket capacity reached", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseWS()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	})
	if err != nil {
		reqLogger.Warn("websocket accept failed", "err", err)
		return
	}
	defer func() {
		if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			reqLogger.Debug("websocket close failed", "err", err)
		}
	}()

	connID := s.wsConnIDs.Add(1)
	s.wsTotal.Add(1)
	logger := reqLogger.With("ws_id", connID)

	outbound := newWSOutbound(wsSendQueueSize, &s.wsDropped)
	ctx, cancel := context.WithCancel(r.Context())

	writerDone := make(chan struct{})
	go s.wsWriter(ctx, conn, outbound, cancel, logger, writerDone)

	snapshots, unsubscribe := s.sampler.Subscribe()
	defer func() {
		unsubscribe()
		outbound.close()
		cancel()
		<-writerDone
	}()

	if !s.enqueueMessage(outbound, s.helloFor(), logger) {
		return
	}

	messageCh := make(chan []byte, 8)
	readErrCh := make(chan error, 1)
	go s.readMessages(ctx, conn, messageCh, readErrCh)
	go s.keepalive(ctx, conn, cancel, logger)

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				logger.Debug("snapshot stream closed")
				return
			}
			if !s.enqueueMessage(outbound, api.NewSnapshotMessage(snap), logger) {
				return
			}
		case data, ok := <-messageCh:
			if !ok {
				messageCh = nil
				continue
			}
			if err := s.handleClientMessage(outbound, data, logger); err != nil {
				logger.Warn("client message handling error", "err", err)
				return
			}
		case err := <-readErrCh:
			if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				logger.Debug("websocket read error", "err", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) readMessages(ctx context.Context, conn *websocket.Conn, out chan<- []byte, errCh chan<- error) {
	defer close(out)
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			errCh <- err
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		select {
		case out <- data:
		case <-ctx.Done():
			return
		}
	}
}

// keepalive pings the client every half read timeout. A pong that does not
// arrive within the read timeout ends the connection. Pongs are only
// processed while readMessages is running.
func (s *Server) keepalive(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, logger *slog.Logger) {
	timeout := s.cfg.WS.ReadTimeout
	if timeout <= 0 {
		return
	}
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, timeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				if ctx.Err() == nil {
					logger.Debug("websocket ping failed", "err", err)
				}
				cancel()
				return
			}
		}
	}
}

func (s *Server) handleClientMessage(outbound *wsOutbound, data []byte, logger *slog.Logger) error {
	var envelope api.ClientMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.Debug("invalid client message", "err", err)
		return nil
	}

	switch envelope.Type {
	case "ping":
		if !s.enqueueMessage(outbound, api.PongMessage{Type: "pong"}, logger) {
			return errors.New("failed to enqueue pong response")
		}
	case "timelines":
		if !s.enqueueMessage(outbound, api.NewTimelinesMessage(s.sampler.Timelines()), logger) {
			return errors.New("failed to enqueue timelines response")
		}
	default:
		logger.Debug("unknown message type", "type", envelope.Type)
		if !s.enqueueError(outbound, fmt.Sprintf("unknown message type %q", envelope.Type), logger) {
			return errors.New("failed to enqueue error response")
		}
	}
	return nil
}

func (s *Server) wsWriter(ctx context.Context, conn *websocket.Conn, outbound *wsOutbound, cancel context.CancelFunc, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-outbound.channel():
			if !ok {
				return
			}
			if err := s.writeRaw(ctx, conn, msg); err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					logger.Debug("websocket write failed", "err", err)
				}
				cancel()
				return
			}
			s.wsSent.Add(1)
		}
	}
}

func (s *Server) writeRaw(ctx context.Context, conn *websocket.Conn, data []byte) error {
	if s.cfg.WS.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WS.WriteTimeout)
		defer cancel()
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) enqueueMessage(outbound *wsOutbound, payload any, logger *slog.Logger) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal websocket payload", "err", err)
		return false
	}
	if !outbound.enqueue(data) {
		logger.Debug("websocket outbound queue unavailable")
		return false
	}
	return true
}

func (s *Server) enqueueError(outbound *wsOutbound, msg string, logger *slog.Logger) bool {
	return s.enqueueMessage(outbound, api.ErrorMessage{Type: "error", Message: msg}, logger)
}

// wsOutbound is a bounded queue that drops the oldest message when full.
type wsOutbound struct {
	ch     chan []byte
	closed atomic.Bool
	drops  *atomic.Uint64
}

func newWSOutbound(size int, dropCounter *atomic.Uint64) *wsOutbound {
	if size <= 0 {
		size = 1
	}
	return &wsOutbound{
		ch:    make(chan []byte, size),
		drops: dropCounter,
	}
}

func (o *wsOutbound) enqueue(msg []byte) bool {
	if o.closed.Load() {
		o.countDrop()
		return false
	}

	select {
	case o.ch <- msg:
		return true
	default:
	}

	select {
	case <-o.ch:
		o.countDrop()
	default:
	}

	select {
	case o.ch <- msg:
		return true
	default:
		o.countDrop()
		return false
	}
}

func (o *wsOutbound) close() {
	if o.closed.CompareAndSwap(false, true) {
		close(o.ch)
	}
}

func (o *wsOutbound) channel() <-chan []byte {
	return o.ch
}

func (o *wsOutbound) countDrop() {
	if o.drops != nil {
		o.drops.Add(1)
	}
}
