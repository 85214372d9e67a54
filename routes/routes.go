package routes

import (
	"github.com/Dosada05/quickplay-matchmaking/handlers"
	"github.com/Dosada05/quickplay-matchmaking/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // Alias to avoid conflict
	"github.com/go-chi/cors"
)

// SetupRoutes регистрирует все HTTP-маршруты приложения.
func SetupRoutes(
	router *chi.Mux,
	jwtSecret string,
	authHandler *handlers.AuthHandler,
	matchmakingHandler *handlers.MatchmakingHandler,
	tournamentHandler *handlers.TournamentHandler,
	matchHandler *handlers.MatchHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authenticate := middleware.Authenticate(jwtSecret)

	router.Post("/users/signup", authHandler.Register)
	router.Post("/users/signin", authHandler.Login)

	router.Group(func(r chi.Router) {
		r.Use(authenticate)

		r.Post("/matchmaking/search", matchmakingHandler.Search)

		r.Route("/lobbies/{lobbyID}", func(r chi.Router) {
			r.Get("/", matchmakingHandler.Lobby)
			r.Post("/leave", matchmakingHandler.Leave)
			r.Post("/ready", matchmakingHandler.Ready)
			r.Post("/repair", matchmakingHandler.Repair)
		})

		r.Route("/matches/{matchID}", func(r chi.Router) {
			r.Post("/result", matchHandler.SubmitResult)
			r.Post("/screenshot", matchHandler.AttachScreenshot)
		})
	})

	// Просмотр турнира публичен.
	router.Get("/tournaments/{tournamentID}", tournamentHandler.GetByID)

	// WebSocket аутентифицируется на уровне Origin-проверки апгрейдера.
	router.Get("/ws/lobbies/{lobbyID}", webSocketHandler.ServeWs)
}
