package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"farmlink/internal/app"
	"farmlink/internal/news"
	"farmlink/internal/ratelimit"
	"farmlink/internal/realtime"
	"farmlink/internal/store"
	"farmlink/internal/util"
	"farmlink/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App  *app.App
	Hub  *realtime.Hub
	News *news.Client

	// Redis enables distributed rate limiting on signup and login. Without
	// it those endpoints are unthrottled.
	Redis                    *redis.Client
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
}

// Server exposes the marketplace HTTP API.
type Server struct {
	app  *app.App
	hub  *realtime.Hub
	news *news.Client
	mux  *http.ServeMux

	signupLimiter *ratelimit.FixedWindowLimiter
	loginLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	s := &Server{
		app:  cfg.App,
		hub:  cfg.Hub,
		news: cfg.News,
		mux:  http.NewServeMux(),
	}
	if cfg.Redis != nil {
		signupLimit := cfg.SignupRateLimitPerMinute
		if signupLimit <= 0 {
			signupLimit = 5
		}
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		var err error
		s.signupLimiter, err = ratelimit.NewFixedWindowLimiter(cfg.Redis, "farmlink:ratelimit:signup", signupLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init signup limiter: %w", err)
		}
		s.loginLimiter, err = ratelimit.NewFixedWindowLimiter(cfg.Redis, "farmlink:ratelimit:login", loginLimit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init login limiter: %w", err)
		}
	}
	s.routes()
	return s, nil
}

// Router returns the handler with middleware applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithCORS(h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog(h)
	h = util.WithRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)

	// users
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/users/me/password", s.authenticated(s.handleChangePassword))
	s.mux.Handle("/api/users/me/listings", s.authenticated(s.handleMyListings))
	s.mux.Handle("/api/users/me/bids", s.authenticated(s.handleMyBids))
	s.mux.Handle("/api/users/", s.authenticated(s.handleUserByID))

	// listings and bids; browsing the catalog needs no session
	s.mux.HandleFunc("/api/listings", s.handleListings)
	s.mux.HandleFunc("/api/listings/", s.handleListingSubtree)
	s.mux.Handle("/api/bids/", s.authenticated(s.handleBidByID))

	// chat
	s.mux.Handle("/api/conversations", s.authenticated(s.handleConversations))
	s.mux.Handle("/api/conversations/", s.authenticated(s.handleConversationSubtree))
	s.mux.HandleFunc("/api/ws", s.handleWS)

	// news
	s.mux.Handle("/api/news", s.authenticated(s.handleNews))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(token)
}

// requireUser is the in-handler form of authenticated(), for routes where
// only some methods need a session.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (domain.User, bool) {
	user, ok := s.authorize(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
	return user, ok
}

// auth handlers

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		return
	}
	var req signupRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.SignUp(req.Email, req.Password, req.DisplayName)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		return
	}
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(token); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// user handlers

type updateMeRequest struct {
	DisplayName *string `json:"displayName"`
	Avatar      *string `json:"avatar"`
	Contact     *string `json:"contact"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req updateMeRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := s.app.UpdateProfile(user, app.ProfileUpdate{
			DisplayName: req.DisplayName,
			Avatar:      req.Avatar,
			Contact:     req.Contact,
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req changePasswordRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "currentPassword and newPassword are required")
		return
	}
	if err := s.app.ChangePassword(user, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request, _ domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/users/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	profile, err := s.app.GetProfile(id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleMyListings(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	listings, err := s.app.ListListingsByOwner(r.Context(), user.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": listings, "count": len(listings)})
}

func (s *Server) handleMyBids(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	bids, err := s.app.ListMyBids(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	listings, err := s.app.ListListingsBidOnBy(r.Context(), user.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": bids, "listings": listings})
}

// listing handlers

type createListingRequest struct {
	Kind        string   `json:"kind"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Unit        string   `json:"unit"`
	Icon        string   `json:"icon"`
	Images      []string `json:"images"`
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter, err := parseListingFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		listings, err := s.app.ListListings(r.Context(), filter)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": listings, "count": len(listings)})
	case http.MethodPost:
		user, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		var req createListingRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		listing, err := s.app.CreateListing(r.Context(), user, app.ListingInput{
			Kind:        domain.ListingKind(req.Kind),
			Title:       req.Title,
			Description: req.Description,
			Price:       req.Price,
			Unit:        req.Unit,
			Icon:        req.Icon,
			Images:      req.Images,
		})
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, listing)
	default:
		methodNotAllowed(w)
	}
}

// handleListingSubtree routes /api/listings/{id}[...]:
//
//	/api/listings/{id}
//	/api/listings/{id}/bids
//	/api/listings/{id}/bids/mine
//	/api/listings/{id}/bids/{bidID}/resolve
func (s *Server) handleListingSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/listings/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.handleListingByID(w, r, parts[0])
		return
	}
	// Everything below the listing itself is bid traffic and needs a session.
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	switch {
	case len(parts) == 2 && parts[1] == "bids":
		s.handleListingBids(w, r, user, parts[0])
	case len(parts) == 3 && parts[1] == "bids" && parts[2] == "mine":
		s.handleMyBidForListing(w, r, user, parts[0])
	case len(parts) == 4 && parts[1] == "bids" && parts[3] == "resolve":
		s.handleResolveBid(w, r, user, parts[0], parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleListingByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		listing, err := s.app.GetListing(r.Context(), id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, listing)
	case http.MethodDelete:
		user, ok := s.requireUser(w, r)
		if !ok {
			return
		}
		if err := s.app.DeleteListing(r.Context(), user, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

type submitBidRequest struct {
	Amount float64 `json:"amount"`
	Kind   string  `json:"kind"`
}

func (s *Server) handleListingBids(w http.ResponseWriter, r *http.Request, user domain.User, listingID string) {
	switch r.Method {
	case http.MethodGet:
		bids, err := s.app.ListBidsForListing(r.Context(), user, listingID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": bids, "count": len(bids)})
	case http.MethodPost:
		var req submitBidRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		bid, err := s.app.SubmitBid(r.Context(), user, listingID, req.Amount, domain.BidKind(req.Kind))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, bid)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleMyBidForListing(w http.ResponseWriter, r *http.Request, user domain.User, listingID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	bid, ok, err := s.app.MyBidForListing(r.Context(), user, listingID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no bid on this listing")
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

type resolveBidRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleResolveBid(w http.ResponseWriter, r *http.Request, user domain.User, listingID, bidID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req resolveBidRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var accept bool
	switch domain.BidStatus(req.Status) {
	case domain.BidAccepted:
		accept = true
	case domain.BidRejected:
		accept = false
	default:
		writeError(w, http.StatusBadRequest, "status must be accepted or rejected")
		return
	}
	bid, err := s.app.ResolveBid(r.Context(), user, listingID, bidID, accept)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

func (s *Server) handleBidByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/bids/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.WithdrawBid(r.Context(), user, id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// chat handlers

type createConversationRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		convs, err := s.app.ListConversations(r.Context(), user)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": convs, "count": len(convs)})
	case http.MethodPost:
		var req createConversationRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		conv, err := s.app.GetOrCreateConversation(r.Context(), user, req.UserID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	default:
		methodNotAllowed(w)
	}
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// handleConversationSubtree routes /api/conversations/{id}/messages.
func (s *Server) handleConversationSubtree(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "messages" {
		http.NotFound(w, r)
		return
	}
	conversationID := parts[0]
	switch r.Method {
	case http.MethodGet:
		msgs, err := s.app.ListMessages(r.Context(), user, conversationID)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": msgs, "count": len(msgs)})
	case http.MethodPost:
		var req sendMessageRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.app.SendMessage(r.Context(), user, conversationID, req.Content)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		methodNotAllowed(w)
	}
}

// handleWS upgrades to a websocket. Browsers cannot set an Authorization
// header on the handshake, so the token may also ride in the query string.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "realtime unavailable")
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, found := s.app.UserFromToken(token)
	if !found {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	realtime.ServeWS(s.hub, w, r, user.ID)
}

// handleNews proxies the agriculture headline search. Clients only ever see
// a fixed message on failure; details stay in the logs.
func (s *Server) handleNews(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.news == nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch news.")
		return
	}
	items, err := s.news.Top(r.Context())
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("news fetch failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch news.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// helpers

func parseListingFilter(r *http.Request) (store.ListingFilter, error) {
	q := r.URL.Query()
	filter := store.ListingFilter{
		TextQuery: strings.TrimSpace(q.Get("q")),
	}
	if kind := q.Get("kind"); kind != "" {
		k := domain.ListingKind(kind)
		if k != domain.KindOffer && k != domain.KindRequest {
			return store.ListingFilter{}, fmt.Errorf("invalid kind %q", kind)
		}
		filter.Kind = k
	}
	if raw := q.Get("minPrice"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return store.ListingFilter{}, fmt.Errorf("invalid minPrice %q", raw)
		}
		filter.MinPrice = &v
	}
	if raw := q.Get("maxPrice"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return store.ListingFilter{}, fmt.Errorf("invalid maxPrice %q", raw)
		}
		filter.MaxPrice = &v
	}
	switch sort := q.Get("sort"); sort {
	case "", "asc":
	case "desc":
		filter.PriceDesc = true
	default:
		return store.ListingFilter{}, fmt.Errorf("invalid sort %q", sort)
	}
	return filter, nil
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

// writeAppError maps application sentinels onto HTTP statuses. Anything
// unexpected is logged and hidden behind a generic 500.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrDuplicateBid):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, out any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(out)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		slog.Warn("empty bearer token", "path", r.URL.Path)
		return "", false
	}
	return token, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
