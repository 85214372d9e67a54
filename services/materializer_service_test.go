package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/quickplay-matchmaking/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedReadyLobby кладёт в стор лобби в ready_check с полностью готовым
// составом, минуя сервисы.
func seedReadyLobby(f *fixture, userIDs ...int) int {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	now := time.Now()
	f.store.nextLobbyID++
	lobbyID := f.store.nextLobbyID
	f.store.lobbies[lobbyID] = &models.Lobby{
		ID:                  lobbyID,
		Status:              models.LobbyStatusReadyCheck,
		Capacity:            len(userIDs),
		CurrentPlayers:      len(userIDs),
		ReadyCheckStartedAt: &now,
		CreatedAt:           now,
	}
	for _, uid := range userIDs {
		f.store.nextParticipantID++
		f.store.participants[f.store.nextParticipantID] = &models.LobbyParticipant{
			ID:        f.store.nextParticipantID,
			LobbyID:   lobbyID,
			UserID:    uid,
			Status:    models.ParticipantReady,
			IsReady:   true,
			CreatedAt: now,
		}
	}
	return lobbyID
}

func pairKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

func TestMaterialize_CreatesFullRoundRobin(t *testing.T) {
	f := newFixture(4, 30*time.Second, 15*time.Minute)
	users := []int{10, 20, 30, 40}
	lobbyID := seedReadyLobby(f, users...)

	tournamentID, err := f.materializer.Materialize(context.Background(), lobbyID)
	require.NoError(t, err)
	require.NotZero(t, tournamentID)

	participants, err := f.tournRepo.ListParticipants(context.Background(), nil, tournamentID)
	require.NoError(t, err)
	require.Len(t, participants, 4)
	for i, p := range participants {
		assert.Equal(t, users[i], p.UserID)
		assert.Equal(t, i+1, p.Seed, "seed follows join order")
	}

	matches, err := f.matchRepo.ListByTournament(context.Background(), nil, tournamentID)
	require.NoError(t, err)
	require.Len(t, matches, 6, "C(4,2) pairs")

	seen := make(map[[2]int]bool)
	for _, m := range matches {
		assert.NotEqual(t, m.Player1ID, m.Player2ID, "no self-pairs")
		key := pairKey(m.Player1ID, m.Player2ID)
		assert.False(t, seen[key], "pair %v duplicated", key)
		seen[key] = true
		assert.Equal(t, models.MatchStatusScheduled, m.Status)
	}

	lobby, err := f.lobbyRepo.GetByID(context.Background(), nil, lobbyID)
	require.NoError(t, err)
	require.NotNil(t, lobby.TournamentID)
	assert.Equal(t, tournamentID, *lobby.TournamentID)
	assert.Equal(t, models.LobbyStatusActive, lobby.Status)
}

func TestMaterialize_IsIdempotent(t *testing.T) {
	f := newFixture(4, 30*time.Second, 15*time.Minute)
	lobbyID := seedReadyLobby(f, 1, 2, 3, 4)

	first, err := f.materializer.Materialize(context.Background(), lobbyID)
	require.NoError(t, err)
	second, err := f.materializer.Materialize(context.Background(), lobbyID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Len(t, f.store.tournaments, 1)
	assert.Len(t, f.store.matches, 6)
}

// Сколько бы конкурентных вызовов ни пришло, турнир один и id у всех общий.
func TestMaterialize_ExactlyOnceUnderConcurrency(t *testing.T) {
	f := newFixture(4, 30*time.Second, 15*time.Minute)
	lobbyID := seedReadyLobby(f, 1, 2, 3, 4)

	const callers = 16
	ids := make([]int, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = f.materializer.Materialize(context.Background(), lobbyID)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i], "caller %d saw a different tournament", i)
	}

	assert.Len(t, f.store.tournaments, 1, "exactly one tournament row")
	assert.Len(t, f.store.tournamentParticipants, 4)
	assert.Len(t, f.store.matches, 6)
}

// Маркер на лобби записывается строго после того, как всё поддерево турнира
// закоммичено и видно читателям.
func TestMaterialize_MarkerWrittenAfterSubtree(t *testing.T) {
	f := newFixture(4, 30*time.Second, 15*time.Minute)
	lobbyID := seedReadyLobby(f, 1, 2, 3, 4)

	f.store.assignHook = func(lid, tournamentID int) {
		participants := 0
		for _, p := range f.store.tournamentParticipants {
			if p.TournamentID == tournamentID {
				participants++
			}
		}
		matches := 0
		for _, m := range f.store.matches {
			if m.TournamentID == tournamentID {
				matches++
			}
		}
		assert.Equal(t, 4, participants, "marker must not precede participant rows")
		assert.Equal(t, 6, matches, "marker must not precede match rows")
	}

	_, err := f.materializer.Materialize(context.Background(), lobbyID)
	require.NoError(t, err)
}

func TestMaterialize_RejectsNotReadyLobby(t *testing.T) {
	f := newFixture(4, 30*time.Second, 15*time.Minute)
	lobbyID := f.fillLobby(t, 1, 2, 3) // трое, до capacity не добрали

	_, err := f.materializer.Materialize(context.Background(), lobbyID)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Empty(t, f.store.tournaments)
}

func TestMaterialize_RejectsPartialReadiness(t *testing.T) {
	f := newFixture(4, 30*time.Second, 15*time.Minute)
	lobbyID := seedReadyLobby(f, 1, 2, 3, 4)

	f.store.mu.Lock()
	for _, p := range f.store.participants {
		if p.LobbyID == lobbyID && p.UserID == 4 {
			p.Status = models.ParticipantSearching
			p.IsReady = false
		}
	}
	f.store.mu.Unlock()

	_, err := f.materializer.Materialize(context.Background(), lobbyID)
	assert.ErrorIs(t, err, ErrPreconditionFailed)
}

// Исчерпание ретраев возвращает лобби в ожидание, не трогая флаги
// готовности: следующий проход координатора перезапустит материализацию.
func TestMaterialize_ExhaustionReleasesLobbyKeepingReadiness(t *testing.T) {
	f := newFixture(4, 30*time.Second, 15*time.Minute)
	lobbyID := seedReadyLobby(f, 1, 2, 3, 4)

	f.store.tournamentCreateErr = func() error {
		return errors.New("pq: could not serialize access due to concurrent update (SQLSTATE 40001)")
	}

	_, err := f.materializer.Materialize(context.Background(), lobbyID)
	require.ErrorIs(t, err, ErrMaterializationFailed)
	assert.Empty(t, f.store.tournaments, "no tournament row survives a failed reserve")

	lobby, err := f.lobbyRepo.GetByID(context.Background(), nil, lobbyID)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyStatusWaiting, lobby.Status)
	assert.Nil(t, lobby.TournamentID)
	assert.Nil(t, lobby.ReadyCheckStartedAt)

	ready, err := f.partRepo.CountReady(context.Background(), nil, lobbyID)
	require.NoError(t, err)
	assert.Equal(t, 4, ready, "readiness survives the failed attempt")

	// Сбой прошёл: повторный вызов доводит материализацию до конца.
	f.store.tournamentCreateErr = nil
	id, err := f.materializer.Materialize(context.Background(), lobbyID)
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestMaterialize_LobbyNotFound(t *testing.T) {
	f := newFixture(4, 30*time.Second, 15*time.Minute)

	_, err := f.materializer.Materialize(context.Background(), 777)
	assert.ErrorIs(t, err, ErrLobbyNotFound)
}

// Проигравший гонку вставки достраивает недозаполненное поддерево победителя.
func TestMaterialize_AdoptsAndRepairsPartialSubtree(t *testing.T) {
	f := newFixture(4, 30*time.Second, 15*time.Minute)
	lobbyID := seedReadyLobby(f, 1, 2, 3, 4)

	// Симулируем упавшего на полпути писателя: турнир есть, детей нет,
	// маркер не записан.
	f.store.mu.Lock()
	f.store.nextTournamentID++
	orphanID := f.store.nextTournamentID
	f.store.tournaments[orphanID] = &models.Tournament{
		ID:        orphanID,
		LobbyID:   lobbyID,
		Status:    models.TournamentStatusActive,
		CreatedAt: time.Now(),
	}
	f.store.mu.Unlock()

	tournamentID, err := f.materializer.Materialize(context.Background(), lobbyID)
	require.NoError(t, err)
	assert.Equal(t, orphanID, tournamentID, "existing tournament is adopted, not duplicated")

	n, err := f.tournRepo.CountParticipants(context.Background(), nil, tournamentID)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	m, err := f.matchRepo.CountByTournament(context.Background(), nil, tournamentID)
	require.NoError(t, err)
	assert.Equal(t, 6, m)

	lobby, err := f.lobbyRepo.GetByID(context.Background(), nil, lobbyID)
	require.NoError(t, err)
	require.NotNil(t, lobby.TournamentID)
	assert.Equal(t, tournamentID, *lobby.TournamentID)
}
