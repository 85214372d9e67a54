package handlers

import (
	"log"
	"net/http"

	"github.com/Dosada05/quickplay-matchmaking/realtime"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// В продакшене здесь должна быть проверка Origin,
		// чтобы разрешать подключения только с доверенных доменов.
		return true
	},
}

type WebSocketHandler struct {
	hub *realtime.Hub
}

func NewWebSocketHandler(hub *realtime.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
	}
}

// ServeWs - GET /ws/lobbies/{lobbyID}. Канал уведомлений о событиях лобби;
// он ускоряет UI, но ни одно решение клиента на него не опирается, источником
// истины остаётся опрос снапшота.
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	lobbyID, err := intURLParam(r, "lobbyID")
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("failed to upgrade connection for lobby %d: %v", lobbyID, err)
		return
	}

	client := &realtime.Client{
		Hub:  h.hub,
		Conn: conn,
		Send: make(chan []byte, 256),
		Room: realtime.RoomID(lobbyID),
	}
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}
