package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roomhub/apiserver/internal/services"
	"github.com/roomhub/apiserver/types"
)

type updateRoomRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Capacity    *int    `json:"capacity"`
}

type joinRoomRequest struct {
	Code string `json:"code"`
}

// RoomHandler provides HTTP handlers for rooms.
type RoomHandler struct {
	rooms *services.RoomService
}

func NewRoomHandler(rooms *services.RoomService) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

// RoomRouter registers room routes on the given router.
func RoomRouter(r chi.Router, handler *RoomHandler, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Post("/", handler.CreateRoom)
	r.With(authMiddleware).Post("/join", handler.JoinRoom)
	r.Route("/{roomID}", func(r chi.Router) {
		r.Get("/", handler.GetRoom)
		r.With(authMiddleware, handler.requireAdmin).Patch("/", handler.UpdateRoom)
		r.With(authMiddleware, handler.requireAdmin).Delete("/", handler.DeleteRoom)
	})
}

func (h *RoomHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w)
		return
	}

	var req types.CreateRoomInput
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validateCreateRoom(req); len(errs) > 0 {
		writeErrors(w, http.StatusBadRequest, errs...)
		return
	}
	req.OwnerID = userID

	result := h.rooms.Create(r.Context(), req)
	respond(w, r, result, http.StatusCreated, notFound(http.StatusBadRequest, "ownerId", detailUserNotFound))
}

func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	result := h.rooms.FindByID(r.Context(), chi.URLParam(r, "roomID"))
	respond(w, r, result, http.StatusOK, notFound(http.StatusNotFound, sourceRoomID, detailRoomNotFound))
}

func (h *RoomHandler) UpdateRoom(w http.ResponseWriter, r *http.Request) {
	var req updateRoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validateUpdateRoom(req); len(errs) > 0 {
		writeErrors(w, http.StatusBadRequest, errs...)
		return
	}

	result := h.rooms.Update(r.Context(), chi.URLParam(r, "roomID"), types.UpdateRoomInput{
		Title:       req.Title,
		Description: req.Description,
		Capacity:    *req.Capacity,
	})
	respond(w, r, result, http.StatusOK, notFound(http.StatusBadRequest, sourceRoomID, detailRoomNotFound))
}

func (h *RoomHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	result := h.rooms.Delete(r.Context(), chi.URLParam(r, "roomID"))
	respond(w, r, result, http.StatusOK, notFound(http.StatusBadRequest, sourceRoomID, detailRoomNotFound))
}

func (h *RoomHandler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeUnauthenticated(w)
		return
	}

	var req joinRoomRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validateJoinRoom(req); len(errs) > 0 {
		writeErrors(w, http.StatusBadRequest, errs...)
		return
	}

	result := h.rooms.Join(r.Context(), types.JoinRoomInput{Code: req.Code, UserID: userID})
	respond(w, r, result, http.StatusOK, notFound(http.StatusNotFound, "code", detailRoomNotFound))
}

// requireAdmin lets the request through only for the room's ADMIN.
func (h *RoomHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromContext(r.Context())
		if err != nil {
			writeUnauthenticated(w)
			return
		}

		result := h.rooms.IsAdmin(r.Context(), chi.URLParam(r, "roomID"), userID)
		switch {
		case result.Err != nil:
			writeInternalError(w)
		case result.IsNotFound:
			writeError(w, http.StatusBadRequest, types.CodeRelatedEntityNotFound, sourceRoomID, detailRoomNotFound)
		case !result.Data:
			writeError(w, http.StatusForbidden, types.CodeForbidden, sourceRoomID, detailForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}
