package services

import (
	"context"
	"testing"
	"time"

	"github.com/Dosada05/quickplay-matchmaking/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkReady_CountsConfirmations(t *testing.T) {
	f := newFixture(4, 30*time.Second, 15*time.Minute)
	lobbyID := f.fillLobby(t, 1, 2, 3, 4)

	status, err := f.readyChecks.MarkReady(context.Background(), lobbyID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, status.ReadyCount)
	assert.Equal(t, 4, status.Capacity)
	assert.False(t, status.AllReady)
	assert.Nil(t, status.TournamentID)
}

func TestMarkReady_IsIdempotentPerUser(t *testing.T) {
	f := newFixture(4, 30*time.Second, 15*time.Minute)
	lobbyID := f.fillLobby(t, 1, 2, 3, 4)

	_, err := f.readyChecks.MarkReady(context.Background(), lobbyID, 1)
	require.NoError(t, err)
	status, err := f.readyChecks.MarkReady(context.Background(), lobbyID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, status.ReadyCount, "double confirm must not double count")
}

func TestMarkReady_LastConfirmationMaterializes(t *testing.T) {
	f := newFixture(4, 30*time.Second, 15*time.Minute)
	lobbyID := f.fillLobby(t, 1, 2, 3, 4)

	var last *ReadyStatus
	for _, uid := range []int{1, 2, 3, 4} {
		status, err := f.readyChecks.MarkReady(context.Background(), lobbyID, uid)
		require.NoError(t, err)
		last = status
	}

	require.True(t, last.AllReady)
	require.NotNil(t, last.TournamentID)

	lobby, err := f.lobbies.GetSnapshot(context.Background(), lobbyID)
	require.NoError(t, err)
	require.NotNil(t, lobby.TournamentID)
	assert.Equal(t, *last.TournamentID, *lobby.TournamentID)
	assert.Equal(t, models.LobbyStatusActive, lobby.Status)
}

func TestMarkReady_AfterMaterializationReturnsTournament(t *testing.T) {
	f := newFixture(2, 30*time.Second, 15*time.Minute)
	lobbyID := f.fillLobby(t, 1, 2)

	_, err := f.readyChecks.MarkReady(context.Background(), lobbyID, 1)
	require.NoError(t, err)
	first, err := f.readyChecks.MarkReady(context.Background(), lobbyID, 2)
	require.NoError(t, err)
	require.NotNil(t, first.TournamentID)

	// Запоздавшее повторное подтверждение не ломается и указывает на тот же
	// турнир.
	repeat, err := f.readyChecks.MarkReady(context.Background(), lobbyID, 1)
	require.NoError(t, err)
	require.NotNil(t, repeat.TournamentID)
	assert.Equal(t, *first.TournamentID, *repeat.TournamentID)
}

func TestMarkReady_OutsideReadyCheck(t *testing.T) {
	f := newFixture(4, 30*time.Second, 15*time.Minute)
	lobbyID := f.fillLobby(t, 1, 2)

	_, err := f.readyChecks.MarkReady(context.Background(), lobbyID, 1)
	assert.ErrorIs(t, err, ErrInvalidLobbyState)
}

func TestMarkReady_NonMember(t *testing.T) {
	f := newFixture(4, 30*time.Second, 15*time.Minute)
	lobbyID := f.fillLobby(t, 1, 2, 3, 4)

	_, err := f.readyChecks.MarkReady(context.Background(), lobbyID, 99)
	assert.ErrorIs(t, err, ErrNotInLobby)
}

func TestMarkReady_ExpiredCountdownCancelsLobby(t *testing.T) {
	window := 30 * time.Second
	f := newFixture(4, window, 15*time.Minute)
	lobbyID := f.fillLobby(t, 1, 2, 3, 4)

	// Отматываем старт отсчёта за пределы окна.
	f.store.mu.Lock()
	past := time.Now().Add(-window - time.Second)
	f.store.lobbies[lobbyID].ReadyCheckStartedAt = &past
	f.store.mu.Unlock()

	_, err := f.readyChecks.MarkReady(context.Background(), lobbyID, 1)
	require.ErrorIs(t, err, ErrInsufficientPlayers)

	lobby, err := f.lobbies.GetSnapshot(context.Background(), lobbyID)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyStatusWaiting, lobby.Status)
	assert.Equal(t, 0, lobby.CurrentPlayers)
	assert.Empty(t, lobby.Participants, "expiry evicts every occupant")
	assert.Nil(t, lobby.TournamentID)
}

func TestSweepExpired_CancelsOverdueChecksOnly(t *testing.T) {
	window := 30 * time.Second
	f := newFixture(2, window, 15*time.Minute)

	overdue := f.fillLobby(t, 1, 2)
	healthy := f.fillLobby(t, 3, 4)

	f.store.mu.Lock()
	past := time.Now().Add(-window - time.Second)
	f.store.lobbies[overdue].ReadyCheckStartedAt = &past
	f.store.mu.Unlock()

	require.NoError(t, f.readyChecks.SweepExpired(context.Background()))

	got, err := f.lobbies.GetSnapshot(context.Background(), overdue)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyStatusWaiting, got.Status)
	assert.Empty(t, got.Participants)

	kept, err := f.lobbies.GetSnapshot(context.Background(), healthy)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyStatusReadyCheck, kept.Status)
	assert.Len(t, kept.Participants, 2)
}

func TestSweepStale_DrainsAbandonedLobbies(t *testing.T) {
	ttl := 15 * time.Minute
	f := newFixture(4, 30*time.Second, ttl)

	staleID := f.fillLobby(t, 1, 2)
	f.store.mu.Lock()
	f.store.lobbies[staleID].CreatedAt = time.Now().Add(-ttl - time.Minute)
	f.store.mu.Unlock()

	require.NoError(t, f.readyChecks.SweepStale(context.Background()))

	lobby, err := f.lobbies.GetSnapshot(context.Background(), staleID)
	require.NoError(t, err)
	assert.Equal(t, 0, lobby.CurrentPlayers)
	assert.Empty(t, lobby.Participants)
}
