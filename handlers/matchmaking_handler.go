package handlers

import (
	"net/http"

	"github.com/Dosada05/quickplay-matchmaking/middleware"
	"github.com/Dosada05/quickplay-matchmaking/services"
)

// MatchmakingHandler - HTTP-поверхность протокола лобби: вход в поиск,
// выход, подтверждение готовности и чтение снапшота.
type MatchmakingHandler struct {
	matchmaking *services.MatchmakingService
	lobbies     *services.LobbyService
	readyChecks *services.ReadyCheckService
}

func NewMatchmakingHandler(
	matchmaking *services.MatchmakingService,
	lobbies *services.LobbyService,
	readyChecks *services.ReadyCheckService,
) *MatchmakingHandler {
	return &MatchmakingHandler{
		matchmaking: matchmaking,
		lobbies:     lobbies,
		readyChecks: readyChecks,
	}
}

// Search - POST /matchmaking/search. Идемпотентен: повторный вызов во время
// активного поиска возвращает то же лобби.
func (h *MatchmakingHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, services.ErrNotAuthenticated.Error())
		return
	}

	lobbyID, err := h.matchmaking.FindOrCreateLobby(r.Context(), userID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	lobby, err := h.lobbies.GetSnapshot(r.Context(), lobbyID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"lobby": lobby}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Leave - POST /lobbies/{lobbyID}/leave.
func (h *MatchmakingHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, services.ErrNotAuthenticated.Error())
		return
	}

	lobbyID, err := intURLParam(r, "lobbyID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if err := h.lobbies.Leave(r.Context(), lobbyID, userID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Ready - POST /lobbies/{lobbyID}/ready. Ответ включает счётчик готовых и,
// если этот вызов замкнул кворум, идентификатор созданного турнира.
func (h *MatchmakingHandler) Ready(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, services.ErrNotAuthenticated.Error())
		return
	}

	lobbyID, err := intURLParam(r, "lobbyID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	status, err := h.readyChecks.MarkReady(r.Context(), lobbyID, userID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"ready_check": status}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Lobby - GET /lobbies/{lobbyID}. Основное чтение цикла реконсиляции.
func (h *MatchmakingHandler) Lobby(w http.ResponseWriter, r *http.Request) {
	lobbyID, err := intURLParam(r, "lobbyID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	lobby, err := h.lobbies.GetSnapshot(r.Context(), lobbyID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"lobby": lobby}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// Repair - POST /lobbies/{lobbyID}/repair. Идемпотентная починка дрейфа,
// безопасна для вызова из каждого клиентского тика.
func (h *MatchmakingHandler) Repair(w http.ResponseWriter, r *http.Request) {
	lobbyID, err := intURLParam(r, "lobbyID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if err := h.lobbies.RepairDrift(r.Context(), lobbyID); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
