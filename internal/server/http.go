package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/auth"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/hub"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/protocol"
)

func newUpgrader(allowedOrigin string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(allowedOrigin),
	}
}

// checkOrigin admits requests without an Origin header, such as native clients,
// and browsers on the configured origin. An empty or "*" origin admits all.
func checkOrigin(allowed string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if allowed == "" || allowed == "*" {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" || strings.EqualFold(strings.TrimSuffix(origin, "/"), strings.TrimSuffix(allowed, "/")) {
			return true
		}
		log.Printf("[server] Rejected websocket origin %q", origin)
		return false
	}
}

// ServeWs upgrades the request and starts the client. A valid token on the
// request is queued as the connection's first command, ahead of anything the
// client sends; otherwise the client must send an auth message.
func (s *Server) ServeWs(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[server] WebSocket upgrade error: %v", err)
			return
		}

		c := hub.NewClient(s.hub, conn, s)
		s.hub.Register(c)
		if s.verifier.Enabled() {
			if token := auth.TokenFromRequest(r); token != "" {
				if _, err := s.verifier.ParseToken(token); err == nil {
					c.Queue(protocol.Auth{Token: token})
				}
			}
		}
		c.Start()
	}
}

type Routes struct {
	Accounts      *auth.Service
	AllowedOrigin string
}

// NewRouter wires the websocket endpoint, the read-only game routes and, when
// configured, the account routes.
func (s *Server) NewRouter(rt Routes) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.ServeWs(newUpgrader(rt.AllowedOrigin))).Methods("GET")
	r.HandleFunc("/health", s.health).Methods("GET")
	r.HandleFunc("/matchmaking/tiers", s.tiers).Methods("GET")
	r.Handle("/rooms/{code}", s.verifier.RequireAuth(http.HandlerFunc(s.roomByCode))).Methods("GET")
	r.Handle("/games/{id}/moves", s.verifier.RequireAuth(http.HandlerFunc(s.gameMoves))).Methods("GET")
	r.Handle("/ledger", s.verifier.RequireAuth(http.HandlerFunc(s.ledger))).Methods("GET")

	if a := rt.Accounts; a != nil {
		r.HandleFunc("/auth/register", a.Register).Methods("POST")
		r.HandleFunc("/auth/login", a.Login).Methods("POST")
		r.Handle("/auth/me", s.verifier.RequireAuth(http.HandlerFunc(a.Me))).Methods("GET")
		r.HandleFunc("/auth/logout", a.Logout).Methods("POST")
		r.HandleFunc("/auth/google", a.GoogleLogin).Methods("GET")
		r.HandleFunc("/auth/google/callback", a.GoogleCallback).Methods("GET")
	}

	return corsMiddleware(rt.AllowedOrigin, r)
}

func corsMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] Failed to encode response: %v", err)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	rooms, playing := s.rooms.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"connections":  s.hub.ClientCount(),
		"online":       len(s.hub.OnlineUsers()),
		"rooms":        rooms,
		"activeGames":  playing,
		"matchmaking":  s.queue.Sizes(),
		"requestCache": s.requests.GetStats(),
	})
}

func (s *Server) tiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tiers": s.queue.Tiers()})
}

func (s *Server) roomByCode(w http.ResponseWriter, r *http.Request) {
	v, err := s.rooms.RoomByCode(mux.Vars(r)["code"])
	if err != nil {
		if errors.Is(err, models.ErrRoomNotFound) {
			http.Error(w, "Room not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load room", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// gameMoves returns the recorded move history of a game, oldest first.
func (s *Server) gameMoves(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	moves, err := s.store.Moves(r.Context(), gameID)
	if err != nil {
		log.Printf("[server] moves for %s: %v", gameID, err)
		http.Error(w, "Failed to load moves", http.StatusInternalServerError)
		return
	}
	if moves == nil {
		moves = []models.Move{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"gameId": gameID, "moves": moves})
}

// ledger lists the caller's coin movements. It needs a signed-in user.
func (s *Server) ledger(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	entries, err := s.store.Ledger(r.Context(), userID)
	if err != nil {
		log.Printf("[server] ledger for %s: %v", userID, err)
		http.Error(w, "Failed to load ledger", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
