package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/roomhub/apiserver/internal/auth"
	"github.com/roomhub/apiserver/internal/events"
	"github.com/roomhub/apiserver/internal/services"
	"github.com/roomhub/apiserver/types"
)

// DefaultCookieName carries the token for browser clients.
const DefaultCookieName = "JWT_TOKEN"

// AuthHandler provides registration, login and session endpoints.
type AuthHandler struct {
	accounts   *services.AccountService
	tokens     *auth.TokenService
	cookieName string
	log        logrus.FieldLogger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(accounts *services.AccountService, tokens *auth.TokenService, cookieName string, log logrus.FieldLogger) *AuthHandler {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthHandler{
		accounts:   accounts,
		tokens:     tokens,
		cookieName: cookieName,
		log:        log,
	}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.With(handler.RequireAuth).Get("/me", handler.Me)
}

// RequireAuth enforces token authentication and injects the subject into context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return requireAuth(h.tokens, h.cookieName)(next)
}

func requireAuth(tokens *auth.TokenService, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := requestToken(r, cookieName)
			if !ok {
				writeUnauthenticated(w)
				return
			}

			// Malformed and expired tokens get the same answer.
			claims, err := tokens.Verify(token)
			if err != nil {
				writeUnauthenticated(w)
				return
			}

			ctx := withUserID(r.Context(), claims.UserID)
			ctx = events.WithActor(ctx, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Register creates a new account.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterInput
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validateRegister(req); len(errs) > 0 {
		writeErrors(w, http.StatusBadRequest, errs...)
		return
	}

	result := h.accounts.Register(r.Context(), req)
	respond(w, r, result, http.StatusCreated, notFound(http.StatusBadRequest, "email", ""))
}

// Login verifies credentials, returns a token and sets the auth cookie.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req types.LoginInput
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validateLogin(req); len(errs) > 0 {
		writeErrors(w, http.StatusBadRequest, errs...)
		return
	}

	result := h.accounts.Authenticate(r.Context(), req)
	switch {
	case result.Err != nil:
		writeInternalError(w)
		return
	case len(result.ValidationErrors) > 0:
		writeErrors(w, http.StatusBadRequest, result.ValidationErrors...)
		return
	case result.IsNotFound:
		writeError(w, http.StatusBadRequest, types.CodeForbidden, sourceCredentials, detailInvalidCredentials)
		return
	}

	token, err := h.tokens.Issue(result.Data.ID)
	if err != nil {
		h.log.WithError(err).WithField("user_id", result.Data.ID).Error("failed to issue token")
		writeInternalError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    token.Token,
		Path:     "/",
		Expires:  token.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeData(w, http.StatusOK, token)
}

// Logout clears the auth cookie. Issued tokens stay valid until they expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w, r)
	writeData(w, http.StatusOK, true)
}

// Me returns the current authenticated account.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w)
		return
	}

	result := h.accounts.FindByID(r.Context(), userID)
	respond(w, r, result, http.StatusOK, func(w http.ResponseWriter, _ *http.Request) {
		writeUnauthenticated(w)
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeUnauthenticated(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, types.CodeUnAuthenticated, sourceAuthorization, detailUnauthenticated)
}

// requestToken prefers the Authorization header and falls back to the cookie.
func requestToken(r *http.Request, cookieName string) (string, bool) {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		return bearerToken(header)
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return "", false
	}
	token := strings.TrimSpace(cookie.Value)
	return token, token != ""
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
