// Package quickplay - клиентская сторона протокола матчмейкинга: состояние
// одного игрока (поиск → ожидание → ready-check → переход в турнир) и цикл
// реконсиляции.
//
// The whole lobby protocol lives behind the Backend interface; a UI layer
// binds to Session snapshots via callback and never re-implements the state
// machine.
package quickplay

import (
	"context"

	"github.com/Dosada05/quickplay-matchmaking/models"
	"github.com/Dosada05/quickplay-matchmaking/services"
)

// Backend - операции протокола, которые нужны клиентской сессии. Все вызовы
// идут против общего хранилища; никакой клиент не является координатором.
type Backend interface {
	FindOrCreateLobby(ctx context.Context, userID int) (int, error)
	Leave(ctx context.Context, lobbyID, userID int) error
	MarkReady(ctx context.Context, lobbyID, userID int) (*services.ReadyStatus, error)
	// LobbySnapshot возвращает лобби с активными участниками.
	LobbySnapshot(ctx context.Context, lobbyID int) (*models.Lobby, error)
	// RepairDrift re-applies the participant tracker's consistency fixes;
	// idempotent and safe to call from every client's loop.
	RepairDrift(ctx context.Context, lobbyID int) error
}

// LocalBackend связывает сессию напрямую со слоем сервисов (in-process).
type LocalBackend struct {
	Matchmaker  *services.MatchmakingService
	Lobbies     *services.LobbyService
	ReadyChecks *services.ReadyCheckService
}

func (b *LocalBackend) FindOrCreateLobby(ctx context.Context, userID int) (int, error) {
	return b.Matchmaker.FindOrCreateLobby(ctx, userID)
}

func (b *LocalBackend) Leave(ctx context.Context, lobbyID, userID int) error {
	return b.Lobbies.Leave(ctx, lobbyID, userID)
}

func (b *LocalBackend) MarkReady(ctx context.Context, lobbyID, userID int) (*services.ReadyStatus, error) {
	return b.ReadyChecks.MarkReady(ctx, lobbyID, userID)
}

func (b *LocalBackend) LobbySnapshot(ctx context.Context, lobbyID int) (*models.Lobby, error) {
	return b.Lobbies.GetSnapshot(ctx, lobbyID)
}

func (b *LocalBackend) RepairDrift(ctx context.Context, lobbyID int) error {
	return b.Lobbies.RepairDrift(ctx, lobbyID)
}
