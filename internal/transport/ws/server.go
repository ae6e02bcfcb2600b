package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"postbox.dev/internal/ledger"
	"postbox.dev/internal/protocol"
	"postbox.dev/internal/runtime"
)

const (
	outQueue     = 64
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
)

type Server struct {
	rt        *runtime.Runtime
	validator *protocol.Validator
	log       *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(rt *runtime.Runtime, v *protocol.Validator, logger *log.Logger) *Server {
	s := &Server{
		rt:        rt,
		validator: v,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

// session is one connected client. Every outbound frame goes through out so
// only the writer goroutine touches the connection after the handshake.
type session struct {
	id     string
	signer ledger.Key
	out    chan []byte
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess, hello := s.handshake(conn)
		if sess == nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		if hello.Subscribe {
			sub, err := s.rt.Subscribe(ctx, hello.SinceCursor, true)
			if err != nil {
				return
			}
			defer s.rt.Unsubscribe(sub.ID)
			go s.stream(ctx, cancel, sess, sub)
		}

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if !s.handleMessage(ctx, sess, msg) {
				break
			}
		}
		s.logf("session closed id=%s signer=%s", sess.id, sess.signer.Short())
	}
}

func (s *Server) handshake(conn *websocket.Conn) (*session, protocol.HelloMsg) {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, hello
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil, hello
	}
	if err := s.validator.Validate(msg); err != nil {
		closeWith(conn, "bad HELLO")
		return nil, hello
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil, hello
	}
	if !versionSupported(hello) {
		closeWith(conn, "bad protocol_version")
		return nil, hello
	}

	sess := &session{
		id:     uuid.NewString(),
		signer: ledger.ParseOrNamed(hello.Signer),
		out:    make(chan []byte, outQueue),
	}
	cfg := s.rt.Config().Program
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SelectedVersion: protocol.Version,
		SessionID:       sess.id,
		Signer:          sess.signer.String(),
		ServerCapabilities: protocol.ServerCapabilities{
			EventBatch: true,
			Ops:        protocol.Ops(),
		},
		Program: protocol.ProgramParams{
			ProgramID: cfg.ProgramID.String(),
			Treasury:  cfg.Treasury.String(),
			Fees: protocol.Fees{
				NewPostbox:         cfg.Fees.NewPostbox,
				NewPersonalPostbox: cfg.Fees.NewPersonalPostbox,
				Post:               cfg.Fees.Post,
				Vote:               cfg.Fees.Vote,
			},
			Growth: cfg.Growth,
		},
		Cursor: s.rt.Status().Cursor,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil, hello
	}
	s.logf("session open id=%s client=%s signer=%s", sess.id, hello.ClientName, sess.signer.Short())
	return sess, hello
}

func versionSupported(h protocol.HelloMsg) bool {
	if h.ProtocolVersion == protocol.Version {
		return true
	}
	for _, v := range h.SupportedVersions {
		if v == protocol.Version {
			return true
		}
	}
	return false
}

// handleMessage returns false when the session should end.
func (s *Server) handleMessage(ctx context.Context, sess *session, msg []byte) bool {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return true
	}
	switch base.Type {
	case protocol.TypeInstruction:
		var in protocol.InstructionMsg
		_ = json.Unmarshal(msg, &in)
		if err := s.validator.Validate(msg); err != nil {
			return s.send(ctx, sess, rejected(in.ReqID, protocol.ErrProtoBadRequest, err.Error()))
		}
		if in.ProtocolVersion != protocol.Version {
			return s.send(ctx, sess, rejected(in.ReqID, protocol.ErrProtoBadRequest, "bad protocol_version"))
		}
		if in.Signer != "" && ledger.ParseOrNamed(in.Signer) != sess.signer {
			return s.send(ctx, sess, rejected(in.ReqID, protocol.ErrProtoBadRequest, "signer does not match session"))
		}
		res, err := s.rt.Submit(ctx, runtime.Instruction{
			ReqID:  in.ReqID,
			Signer: sess.signer,
			Op:     in.Op,
			Args:   in.Args,
		})
		if err != nil {
			if errors.Is(err, runtime.ErrStopped) {
				s.send(ctx, sess, rejected(in.ReqID, protocol.ErrBusy, "server stopping"))
			}
			return false
		}
		return s.send(ctx, sess, res.Msg())

	case protocol.TypeEventBatchReq:
		var req protocol.EventBatchReqMsg
		if err := s.validator.Validate(msg); err != nil {
			return true
		}
		if err := json.Unmarshal(msg, &req); err != nil {
			return true
		}
		items, next, err := s.rt.EventsAfter(ctx, req.SinceCursor, req.Limit)
		if err != nil {
			return false
		}
		if req.Board != "" {
			items = protocol.FilterBoard(items, req.Board)
		}
		if items == nil {
			items = []protocol.EventBatchItem{}
		}
		return s.send(ctx, sess, protocol.EventBatchMsg{
			Type:            protocol.TypeEventBatch,
			ProtocolVersion: protocol.Version,
			ReqID:           req.ReqID,
			Events:          items,
			NextCursor:      next,
		})
	}
	return true
}

// stream forwards subscription events. A client that cannot keep up is
// disconnected and may resume from its last cursor.
func (s *Server) stream(ctx context.Context, cancel context.CancelFunc, sess *session, sub runtime.Subscription) {
	forward := func(it protocol.EventBatchItem) bool {
		b, err := json.Marshal(protocol.EventMsg{
			Type:            protocol.TypeEvent,
			ProtocolVersion: protocol.Version,
			Cursor:          it.Cursor,
			Event:           it.Event,
		})
		if err != nil {
			return true
		}
		select {
		case sess.out <- b:
			return true
		case <-ctx.Done():
			return false
		case <-time.After(writeTimeout):
			s.logf("session slow id=%s cursor=%d", sess.id, it.Cursor)
			cancel()
			return false
		}
	}
	for _, it := range sub.Backlog {
		if !forward(it) {
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case it, ok := <-sub.C:
			if !ok {
				cancel()
				return
			}
			if !forward(it) {
				return
			}
		}
	}
}

func (s *Server) send(ctx context.Context, sess *session, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return true
	}
	select {
	case sess.out <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

func rejected(reqID, code, msg string) protocol.ResultMsg {
	if strings.TrimSpace(reqID) == "" {
		reqID = "unknown"
	}
	return runtime.Result{ReqID: reqID, Code: code, Message: msg}.Msg()
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
