package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/strand/internal/chat"
	"github.com/raphaelgruber/strand/internal/config"
	"github.com/raphaelgruber/strand/internal/db"
	"github.com/raphaelgruber/strand/internal/metrics"
	"github.com/raphaelgruber/strand/internal/models"
)

const (
	shutdownTimeout = 10 * time.Second
	presenceTimeout = 5 * time.Second
)

// ConversationStore is the conversation surface the gateway exposes
// over REST.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
}

// ProfileStore is the user profile surface the gateway exposes over
// REST, and the sink for the presence flag of live sessions. A missing
// profile is reported as db.ErrNotFound.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, p models.Profile) (models.Profile, error)
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	SetPresence(ctx context.Context, userID string, online bool) error
}

// Server serves the chat WebSocket and the REST endpoints.
type Server struct {
	chat          *chat.Service
	conversations ConversationStore
	profiles      ProfileStore
	collector     *metrics.Collector
	log           *slog.Logger
	upgrader      websocket.Upgrader
	http          *http.Server

	// sockets holds the open socket count per user; presence flips on
	// the 0<->1 edges so a second chat window never marks its user
	// offline when it closes.
	socketsMu sync.Mutex
	sockets   map[string]int
}

// New creates a gateway server listening on cfg.ServerPort.
func New(cfg config.Config, chatSvc *chat.Service, conversations ConversationStore, profiles ProfileStore, collector *metrics.Collector, log *slog.Logger) *Server {
	s := &Server{
		chat:          chatSvc,
		conversations: conversations,
		profiles:      profiles,
		collector:     collector,
		log:           log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local gateway, clients are the CLI and TUI
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sockets: make(map[string]int),
	}

	s.http = &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the gateway's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /conversations", s.listConversations)
	mux.HandleFunc("POST /conversations", s.createConversation)
	mux.HandleFunc("GET /profiles", s.getProfile)
	mux.HandleFunc("PUT /profiles", s.putProfile)

	return loggingMiddleware(s.log, mux)
}

// Run starts the server and blocks until ctx is cancelled or the
// listener fails. Shutdown drains in-flight requests for up to 10s.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("gateway listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	convs, err := s.conversations.ListConversations(r.Context(), userID)
	if err != nil {
		s.log.Error("list conversations failed", "user_id", userID, "error", err)
		http.Error(w, "list conversations failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	var conv models.Conversation
	if err := json.NewDecoder(r.Body).Decode(&conv); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if conv.CreatorID == "" || len(conv.ParticipantIDs) < 2 {
		http.Error(w, "creator_id and at least two participant_ids are required", http.StatusBadRequest)
		return
	}
	if !conv.HasParticipant(conv.CreatorID) {
		http.Error(w, "creator must be a participant", http.StatusBadRequest)
		return
	}

	created, err := s.conversations.CreateConversation(r.Context(), conv)
	if err != nil {
		s.log.Error("create conversation failed", "error", err)
		http.Error(w, "create conversation failed", http.StatusInternalServerError)
		return
	}

	s.log.Info("conversation created", "conversation_id", created.ID, "participants", len(created.ParticipantIDs))
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	profile, err := s.profiles.GetProfile(r.Context(), userID)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "profile not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error("get profile failed", "user_id", userID, "error", err)
		http.Error(w, "get profile failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) putProfile(w http.ResponseWriter, r *http.Request) {
	var profile models.Profile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if profile.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	saved, err := s.profiles.UpsertProfile(r.Context(), profile)
	if err != nil {
		s.log.Error("upsert profile failed", "user_id", profile.UserID, "error", err)
		http.Error(w, "upsert profile failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, saved)
}

// socketOpened bumps the user's open socket count and marks them online
// on the first one.
func (s *Server) socketOpened(userID string) {
	s.socketsMu.Lock()
	s.sockets[userID]++
	first := s.sockets[userID] == 1
	s.socketsMu.Unlock()

	if first {
		s.setPresence(userID, true)
	}
}

// socketClosed drops the user's open socket count and marks them
// offline when the last one goes.
func (s *Server) socketClosed(userID string) {
	s.socketsMu.Lock()
	s.sockets[userID]--
	last := s.sockets[userID] <= 0
	if last {
		delete(s.sockets, userID)
	}
	s.socketsMu.Unlock()

	if last {
		s.setPresence(userID, false)
	}
}

// setPresence is best effort; a failed write only costs an accurate
// online flag, never a session.
func (s *Server) setPresence(userID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()

	if err := s.profiles.SetPresence(ctx, userID, online); err != nil {
		s.log.Warn("presence update failed", "user_id", userID, "online", online, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
