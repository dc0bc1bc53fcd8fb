package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/roomhub/apiserver/internal/auth"
	"github.com/roomhub/apiserver/internal/services"
)

// API groups what the versioned routes need.
type API struct {
	Accounts    *services.AccountService
	Rooms       *services.RoomService
	Tokens      *auth.TokenService
	CookieName  string
	AuthLimiter *IPRateLimiter
	Logger      logrus.FieldLogger
}

// Mount registers /auth, /users and /rooms on r.
func Mount(r chi.Router, api API) {
	authHandler := NewAuthHandler(api.Accounts, api.Tokens, api.CookieName, api.Logger)

	r.Route("/auth", func(r chi.Router) {
		if api.AuthLimiter != nil {
			r.Use(api.AuthLimiter.Middleware)
		}
		AuthRouter(r, authHandler)
	})
	r.Route("/users", func(r chi.Router) {
		UserRouter(r, NewUserHandler(api.Accounts, authHandler))
	})
	r.Route("/rooms", func(r chi.Router) {
		RoomRouter(r, NewRoomHandler(api.Rooms), authHandler.RequireAuth)
	})
}
