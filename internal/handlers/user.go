package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/roomhub/apiserver/internal/services"
	"github.com/roomhub/apiserver/types"
)

// UserHandler serves account profiles.
type UserHandler struct {
	accounts *services.AccountService
	auth     *AuthHandler
}

func NewUserHandler(accounts *services.AccountService, authHandler *AuthHandler) *UserHandler {
	return &UserHandler{accounts: accounts, auth: authHandler}
}

// UserRouter registers user routes. Every route requires authentication and
// writes are limited to the caller's own account.
func UserRouter(r chi.Router, handler *UserHandler) {
	r.Use(handler.auth.RequireAuth)
	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", handler.GetUser)
		r.With(requireSelf).Patch("/", handler.UpdateUser)
		r.With(requireSelf).Delete("/", handler.DeleteUser)
	})
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	result := h.accounts.FindByID(r.Context(), chi.URLParam(r, "userID"))
	respond(w, r, result, http.StatusOK, notFound(http.StatusNotFound, sourceUserID, detailUserNotFound))
}

func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req types.UpdateAccountInput
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validateUpdateAccount(req); len(errs) > 0 {
		writeErrors(w, http.StatusBadRequest, errs...)
		return
	}

	result := h.accounts.Update(r.Context(), chi.URLParam(r, "userID"), req)
	respond(w, r, result, http.StatusOK, notFound(http.StatusBadRequest, sourceUserID, detailUserNotFound))
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	result := h.accounts.Delete(r.Context(), chi.URLParam(r, "userID"))
	if result.Succeeded() {
		h.auth.clearCookie(w, r)
	}
	respond(w, r, result, http.StatusOK, notFound(http.StatusBadRequest, sourceUserID, detailUserNotFound))
}

func requireSelf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromContext(r.Context())
		if err != nil {
			writeUnauthenticated(w)
			return
		}
		if !strings.EqualFold(userID, chi.URLParam(r, "userID")) {
			writeError(w, http.StatusForbidden, types.CodeForbidden, sourceUserID, detailForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
