package handlers

import (
	"errors"
	"net/http"

	"github.com/Dosada05/quickplay-matchmaking/middleware"
	"github.com/Dosada05/quickplay-matchmaking/services"
)

// Максимальный размер multipart-формы со скриншотом (8MB с запасом на поля).
const maxScreenshotFormSize = 8 << 20

type MatchHandler struct {
	matchService services.MatchService
}

func NewMatchHandler(matchService services.MatchService) *MatchHandler {
	return &MatchHandler{
		matchService: matchService,
	}
}

// SubmitResult - POST /matches/{matchID}/result. Репортером может быть
// только один из двух игроков матча.
func (h *MatchHandler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, services.ErrNotAuthenticated.Error())
		return
	}

	matchID, err := intURLParam(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input struct {
		Player1Score int `json:"player1_score"`
		Player2Score int `json:"player2_score"`
		WinnerID     int `json:"winner_id"`
	}
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.SubmitResult(r.Context(), matchID, userID, input.Player1Score, input.Player2Score, input.WinnerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// AttachScreenshot - POST /matches/{matchID}/screenshot (multipart/form-data,
// поле "screenshot").
func (h *MatchHandler) AttachScreenshot(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, services.ErrNotAuthenticated.Error())
		return
	}

	matchID, err := intURLParam(r, "matchID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(maxScreenshotFormSize); err != nil {
		badRequestResponse(w, r, errors.New("failed to parse multipart form"))
		return
	}

	file, header, err := r.FormFile("screenshot")
	if err != nil {
		badRequestResponse(w, r, errors.New("screenshot file is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")

	match, err := h.matchService.AttachScreenshot(r.Context(), matchID, userID, contentType, header.Size, file)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, jsonResponse{"match": match}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
