package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
	"github.com/spyderonmode/TicTacMaster-sub002/internal/store"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	stateCookieName   = "oauth_state"
	minPasswordLength = 8
)

// UserStore is what the account handlers need from persistence.
type UserStore interface {
	store.Accounts
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

type ServiceConfig struct {
	StartingCoins int64
	FrontendURL   string
	SecureCookie  bool
	// Google is nil when Google sign-in is not configured.
	Google *oauth2.Config
}

// GoogleConfig builds the OAuth client configuration for Google sign-in.
func GoogleConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     google.Endpoint,
	}
}

// Service serves account registration, login and Google sign-in, and hands out
// the token cookie the websocket and REST routes accept.
type Service struct {
	verifier    *Verifier
	users       UserStore
	cfg         ServiceConfig
	userInfoURL string
	cost        int
	tokenTTL    time.Duration
}

func NewService(v *Verifier, users UserStore, cfg ServiceConfig) *Service {
	return &Service{
		verifier:    v,
		users:       users,
		cfg:         cfg,
		userInfoURL: googleUserInfoURL,
		cost:        bcrypt.DefaultCost,
		tokenTTL:    v.ttl,
	}
}

func (s *Service) GoogleEnabled() bool {
	return s.cfg.Google != nil
}

type credentials struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type sessionResponse struct {
	Token string               `json:"token"`
	User  models.PublicProfile `json:"user"`
	Coins int64                `json:"coins"`
}

func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 3 || len(req.Username) > 32 {
		http.Error(w, "Username must be 3 to 32 characters", http.StatusBadRequest)
		return
	}
	if len(req.Password) < minPasswordLength {
		http.Error(w, fmt.Sprintf("Password must be at least %d characters", minPasswordLength), http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		http.Error(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}
	user := &models.User{
		ID:          uuid.NewString(),
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Coins:       s.cfg.StartingCoins,
	}
	if err := s.users.CreateAccount(r.Context(), user, string(hash)); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			http.Error(w, "Username already taken", http.StatusConflict)
			return
		}
		log.Printf("[auth] register %s: %v", req.Username, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	if user.DisplayName == "" {
		user.DisplayName = user.Username
	}
	log.Printf("[auth] Registered %s (%s)", user.Username, user.ID)
	s.startSession(w, user, http.StatusCreated)
}

func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	user, hash, err := s.users.Credentials(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		if !errors.Is(err, models.ErrUserNotFound) {
			log.Printf("[auth] login %s: %v", req.Username, err)
		}
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}
	s.startSession(w, user, http.StatusOK)
}

func (s *Service) startSession(w http.ResponseWriter, user *models.User, status int) {
	token, err := s.verifier.GenerateToken(user.ID)
	if err != nil {
		log.Printf("[auth] token for %s: %v", user.ID, err)
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	s.setCookie(w, token, int(s.tokenTTL.Seconds()))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(sessionResponse{Token: token, User: user.Public(), Coins: user.Coins})
}

func (s *Service) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
		Path:     "/",
	})
}

// Me returns the authenticated user. It must sit behind RequireAuth.
func (s *Service) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	user, err := s.users.GetUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		models.PublicProfile
		Coins int64 `json:"coins"`
	}{user.Public(), user.Coins})
}

func (s *Service) Logout(w http.ResponseWriter, r *http.Request) {
	s.setCookie(w, "", -1)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logged out successfully"})
}

func (s *Service) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Google == nil {
		http.NotFound(w, r)
		return
	}
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
		Path:     "/",
	})
	http.Redirect(w, r, s.cfg.Google.AuthCodeURL(state, oauth2.AccessTypeOffline), http.StatusTemporaryRedirect)
}

func (s *Service) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Google == nil {
		http.NotFound(w, r)
		return
	}
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		http.Error(w, "Invalid OAuth state", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "No code provided", http.StatusBadRequest)
		return
	}

	token, err := s.cfg.Google.Exchange(r.Context(), code)
	if err != nil {
		log.Printf("[auth] google exchange: %v", err)
		http.Error(w, "Failed to exchange token", http.StatusInternalServerError)
		return
	}
	resp, err := s.cfg.Google.Client(r.Context(), token).Get(s.userInfoURL)
	if err != nil {
		http.Error(w, "Failed to get user info", http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		http.Error(w, "Failed to get user info", http.StatusBadGateway)
		return
	}

	var acct store.GoogleAccount
	if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil || acct.ID == "" {
		http.Error(w, "Failed to decode user info", http.StatusInternalServerError)
		return
	}
	user, err := s.users.UpsertGoogleUser(r.Context(), acct, s.cfg.StartingCoins)
	if err != nil {
		log.Printf("[auth] google user %s: %v", acct.Email, err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	jwtToken, err := s.verifier.GenerateToken(user.ID)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	s.setCookie(w, jwtToken, int(s.tokenTTL.Seconds()))
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", MaxAge: -1, Path: "/"})
	log.Printf("[auth] Google sign-in for %s (%s)", acct.Email, user.ID)
	http.Redirect(w, r, s.cfg.FrontendURL, http.StatusTemporaryRedirect)
}
