package api

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/waveboard/internal/auth"
	"github.com/manpreetbhatti/waveboard/internal/db"
	"github.com/manpreetbhatti/waveboard/internal/element"
	"github.com/manpreetbhatti/waveboard/internal/ratelimit"
	"github.com/manpreetbhatti/waveboard/internal/ws"
)

const maxBodyBytes = 10 << 20

type API struct {
	hub      *ws.Hub
	database *db.Database
	tokens   *auth.JWTVerifier
	log      zerolog.Logger
}

func New(hub *ws.Hub, database *db.Database, tokens *auth.JWTVerifier, log zerolog.Logger) *API {
	return &API{
		hub:      hub,
		database: database,
		tokens:   tokens,
		log:      log,
	}
}

// Register mounts every REST route on mux. Canvas and profile routes need a
// bearer token; all /api routes share the per-IP limiter.
func (a *API) Register(mux *http.ServeMux, limiter *ratelimit.ClientLimiters) {
	limited := func(h http.Handler) http.Handler {
		if limiter == nil {
			return h
		}
		return limiter.Middleware(h)
	}
	protected := func(h http.HandlerFunc) http.Handler {
		return limited(auth.Middleware(a.tokens, h))
	}

	mux.HandleFunc("/health", a.HealthHandler)
	mux.Handle("/api/stats", limited(http.HandlerFunc(a.StatsHandler)))
	mux.Handle("/api/socket-status", limited(http.HandlerFunc(a.SocketStatusHandler)))
	mux.Handle("/api/users/register", limited(http.HandlerFunc(a.RegisterHandler)))
	mux.Handle("/api/users/login", limited(http.HandlerFunc(a.LoginHandler)))
	mux.Handle("/api/users", protected(a.ProfileHandler))
	mux.Handle("/api/canvas", protected(a.CanvasRouter))
	mux.Handle("/api/canvas/", protected(a.CanvasRouter))
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Error().Err(err).Msg("Error encoding JSON response")
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats()
		if err == nil {
			stats["total_users"] = dbStats["user_count"]
			stats["total_canvases"] = dbStats["canvas_count"]
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// SocketStatusHandler lists live rooms with their members.
func (a *API) SocketStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	statuses := a.hub.Registry().Statuses()
	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"totalRooms":       len(statuses),
		"totalConnections": a.hub.GetClientCount(),
		"rooms":            statuses,
	})
}

// User handlers

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string   `json:"token"`
	User  *db.User `json:"user"`
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req RegisterRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid email format")
		return
	}
	if !strongPassword(req.Password) {
		a.errorResponse(w, http.StatusBadRequest,
			"Password must be at least 8 characters and include uppercase, lowercase, numbers, and symbols")
		return
	}

	hash, salt, err := auth.HashPassword(req.Password)
	if err != nil {
		a.errorResponse(w, http.StatusInternalServerError, "Failed to register user")
		return
	}
	user, err := a.database.CreateUser(strings.TrimSpace(req.Name), req.Email, hash, salt)
	if errors.Is(err, db.ErrEmailTaken) {
		a.errorResponse(w, http.StatusConflict, "User already exists")
		return
	}
	if err != nil {
		a.log.Error().Err(err).Msg("create user")
		a.errorResponse(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	a.issue(w, http.StatusCreated, user)
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := a.database.GetUserByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil || !auth.CheckPassword(req.Password, user.PasswordHash, user.PasswordSalt) {
		a.errorResponse(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	a.issue(w, http.StatusOK, user)
}

func (a *API) issue(w http.ResponseWriter, status int, user *db.User) {
	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		a.errorResponse(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}
	a.jsonResponse(w, status, AuthResponse{Token: token, User: user})
}

func (a *API) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id, _ := auth.FromContext(r.Context())
	user, err := a.database.GetUser(id.ID)
	if err != nil {
		a.errorResponse(w, http.StatusNotFound, "User not found")
		return
	}
	a.jsonResponse(w, http.StatusOK, user)
}

func strongPassword(pw string) bool {
	if len(pw) < 8 {
		return false
	}
	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

// Canvas handlers

type CanvasResponse struct {
	*db.Canvas
	Elements json.RawMessage `json:"elements"`
}

type CreateCanvasRequest struct {
	Name string `json:"name"`
}

type SaveCanvasRequest struct {
	Elements json.RawMessage `json:"elements"`
}

type ShareCanvasRequest struct {
	SharedEmail string `json:"sharedEmail"`
}

func canvasResponse(c *db.Canvas) CanvasResponse {
	elems := c.Elements
	if elems == "" {
		elems = "[]"
	}
	return CanvasResponse{Canvas: c, Elements: json.RawMessage(elems)}
}

func (a *API) canvasError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		a.errorResponse(w, http.StatusNotFound, "Canvas not found")
	case errors.Is(err, db.ErrForbidden):
		a.errorResponse(w, http.StatusForbidden, "Access denied")
	default:
		a.log.Error().Err(err).Msg(action)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to "+action)
	}
}

func (a *API) ListCanvasesHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	canvases, err := a.database.ListCanvases(id.ID)
	if err != nil {
		a.canvasError(w, err, "list canvases")
		return
	}

	response := make([]CanvasResponse, len(canvases))
	for i := range canvases {
		response[i] = canvasResponse(&canvases[i])
	}
	a.jsonResponse(w, http.StatusOK, response)
}

func (a *API) CreateCanvasHandler(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req CreateCanvasRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = "Untitled"
	}

	canvas, err := a.database.CreateCanvas(id.ID, req.Name)
	if err != nil {
		a.canvasError(w, err, "create canvas")
		return
	}
	a.jsonResponse(w, http.StatusCreated, canvasResponse(canvas))
}

func (a *API) LoadCanvasHandler(w http.ResponseWriter, r *http.Request, canvasID string) {
	id, _ := auth.FromContext(r.Context())
	canvas, err := a.database.GetCanvas(canvasID, id.ID)
	if err != nil {
		a.canvasError(w, err, "load canvas")
		return
	}
	a.jsonResponse(w, http.StatusOK, canvasResponse(canvas))
}

// SaveCanvasHandler replaces the stored document. The document is validated
// the same way the relay validates snapshots.
func (a *API) SaveCanvasHandler(w http.ResponseWriter, r *http.Request, canvasID string) {
	id, _ := auth.FromContext(r.Context())

	var req SaveCanvasRequest
	if err := decodeBody(w, r, &req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Elements) == 0 {
		a.errorResponse(w, http.StatusBadRequest, "Elements array is required")
		return
	}
	elems, err := element.DecodeSnapshot(req.Elements)
	if err != nil {
		a.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	normalized, err := element.EncodeSnapshot(elems)
	if err != nil {
		a.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	canvas, err := a.database.SaveElements(canvasID, id.ID, string(normalized))
	if err != nil {
		a.canvasError(w, err, "save canvas")
		return
	}
	a.jsonResponse(w, http.StatusOK, canvasResponse(canvas))
}

func (a *API) DeleteCanvasHandler(w http.ResponseWriter, r *http.Request, canvasID string) {
	id, _ := auth.FromContext(r.Context())
	if err := a.database.DeleteCanvas(canvasID, id.ID); err != nil {
		a.canvasError(w, err, "delete canvas")
		return
	}
	a.jsonResponse(w, http.StatusOK, map[string]string{"message": "Canvas deleted successfully"})
}

func (a *API) ShareCanvasHandler(w http.ResponseWriter, r *http.Request, canvasID string) {
	id, _ := auth.FromContext(r.Context())

	var req ShareCanvasRequest
	if err := decodeBody(w, r, &req); err != nil || req.SharedEmail == "" {
		a.errorResponse(w, http.StatusBadRequest, "sharedEmail is required")
		return
	}

	canvas, err := a.database.ShareCanvas(canvasID, id.ID, strings.ToLower(strings.TrimSpace(req.SharedEmail)))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			a.errorResponse(w, http.StatusNotFound, "Canvas not found or sharing failed")
			return
		}
		a.canvasError(w, err, "share canvas")
		return
	}
	a.jsonResponse(w, http.StatusOK, canvasResponse(canvas))
}

func (a *API) CanvasRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/canvas"), "/")

	switch {
	// /api/canvas or /api/canvas/profile
	case path == "" || path == "profile":
		switch r.Method {
		case http.MethodGet:
			a.ListCanvasesHandler(w, r)
		case http.MethodPost:
			a.CreateCanvasHandler(w, r)
		default:
			a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}

	// /api/canvas/create
	case path == "create":
		if r.Method != http.MethodPost {
			a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.CreateCanvasHandler(w, r)

	// /api/canvas/share/{id}
	case strings.HasPrefix(path, "share/"):
		if r.Method != http.MethodPut {
			a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		a.ShareCanvasHandler(w, r, strings.TrimPrefix(path, "share/"))

	// /api/canvas/{id}
	case !strings.Contains(path, "/"):
		switch r.Method {
		case http.MethodGet:
			a.LoadCanvasHandler(w, r, path)
		case http.MethodPut:
			a.SaveCanvasHandler(w, r, path)
		case http.MethodDelete:
			a.DeleteCanvasHandler(w, r, path)
		default:
			a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}

	default:
		a.errorResponse(w, http.StatusNotFound, "Not found")
	}
}

// IdentityLookup resolves token subjects against the users table.
func IdentityLookup(database *db.Database) auth.LookupFunc {
	return func(_ context.Context, userID string) (auth.Identity, error) {
		u, err := database.GetUser(userID)
		if err != nil {
			return auth.Identity{}, err
		}
		return auth.Identity{ID: u.ID, DisplayName: u.Name, Email: u.Email}, nil
	}
}
