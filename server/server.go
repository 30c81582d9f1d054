package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xhad/cyberrag/internal/models"
	"github.com/xhad/cyberrag/pkg/llm"
	"github.com/xhad/cyberrag/pkg/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message types exchanged over /ws.
const (
	TypeQuery   = "query"
	TypeReset   = "reset"
	TypeContext = "context"
	TypeStream  = "stream"
	TypeDone    = "done"
	TypeError   = "error"
)

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// Pipeline is the conversation the server exposes.
type Pipeline interface {
	StreamQuery(ctx context.Context, query string, opts pipeline.ProcessOptions) (*llm.Stream, []string, error)
	AddAssistantTurn(text string) error
	Reset()
}

type WSServer struct {
	pipeline Pipeline
	// mu serialises queries; the pipeline holds a single conversation.
	mu  sync.Mutex
	log *slog.Logger
}

func NewWSServer(p Pipeline, logger *slog.Logger) *WSServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSServer{pipeline: p, log: logger.With("component", "ws_server")}
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting WebSocket server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("Shutting down WebSocket server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("Connection closed", slog.Any("error", err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendMessage(conn, Message{Type: TypeError, Content: "malformed message"})
			continue
		}

		if err := s.handleMessage(r.Context(), conn, msg); err != nil {
			s.log.Debug("Write failed, dropping connection", slog.Any("error", err))
			return
		}
	}
}

// handleMessage only returns write errors; pipeline failures are sent to
// the client as error messages.
func (s *WSServer) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Type {
	case TypeReset:
		s.pipeline.Reset()
		return s.sendMessage(conn, Message{Type: TypeDone, Content: "Conversation history cleared."})
	case TypeQuery, "":
	default:
		return s.sendMessage(conn, Message{Type: TypeError, Content: "unknown message type: " + msg.Type})
	}

	opts := pipeline.ProcessOptions{Stream: true}
	if data, ok := msg.Data.(map[string]interface{}); ok {
		if k, ok := data["top_k"].(float64); ok && k > 0 {
			opts.TopK = int(k)
		}
	}

	stream, contexts, err := s.pipeline.StreamQuery(ctx, msg.Content, opts)
	if err != nil {
		return s.sendMessage(conn, Message{Type: TypeError, Content: "Error: " + err.Error()})
	}
	defer stream.Close()

	if err := s.sendMessage(conn, Message{Type: TypeContext, Data: contexts}); err != nil {
		return err
	}

	var answer strings.Builder
	for stream.Next() {
		answer.WriteString(stream.Text())
		if err := s.sendMessage(conn, Message{Type: TypeStream, Content: stream.Text()}); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return s.sendMessage(conn, Message{Type: TypeError, Content: llm.FailWith(models.KindTransport, err).String()})
	}

	if err := s.pipeline.AddAssistantTurn(answer.String()); err != nil {
		s.log.Error("Failed to record answer", slog.Any("error", err))
	}
	return s.sendMessage(conn, Message{Type: TypeDone, Content: answer.String()})
}

func (s *WSServer) sendMessage(conn *websocket.Conn, msg Message) error {
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Error("Error sending message", slog.Any("error", err))
		return err
	}
	return nil
}
