package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/quickplay-matchmaking/models"
	"github.com/Dosada05/quickplay-matchmaking/repositories"
)

const (
	joinMaxAttempts = 3
	joinBaseDelay   = 100 * time.Millisecond
)

// MatchmakingService подбирает ищущему игроку лобби со свободным местом,
// создавая новое, если подходящего нет.
type MatchmakingService struct {
	tx              repositories.TxRunner
	lobbyRepo       repositories.LobbyRepository
	participantRepo repositories.LobbyParticipantRepository
	lobbies         *LobbyService

	capacity int
	lobbyTTL time.Duration

	publisher EventPublisher
	logger    *slog.Logger
}

func NewMatchmakingService(
	tx repositories.TxRunner,
	lobbyRepo repositories.LobbyRepository,
	participantRepo repositories.LobbyParticipantRepository,
	lobbies *LobbyService,
	capacity int,
	lobbyTTL time.Duration,
	publisher EventPublisher,
	logger *slog.Logger,
) *MatchmakingService {
	return &MatchmakingService{
		tx:              tx,
		lobbyRepo:       lobbyRepo,
		participantRepo: participantRepo,
		lobbies:         lobbies,
		capacity:        capacity,
		lobbyTTL:        lobbyTTL,
		publisher:       publisher,
		logger:          logger,
	}
}

// FindOrCreateLobby возвращает лобби для ищущего игрока.
//
// Idempotent re-entry: if the user already holds a seat (searching/ready) in
// a fresh lobby without a tournament, that lobby is returned as-is, which
// covers reconnects and duplicate calls. A stale participation is abandoned
// first. Otherwise a waiting lobby with a free seat is claimed atomically, or
// a new one is created; the selection race is resolved by row locking in the
// store and bounded retries with jittered backoff.
func (s *MatchmakingService) FindOrCreateLobby(ctx context.Context, userID int) (int, error) {
	if userID <= 0 {
		return 0, ErrNotAuthenticated
	}

	if lobbyID, ok, err := s.resumeExisting(ctx, userID); err != nil {
		return 0, err
	} else if ok {
		return lobbyID, nil
	}

	var lobbyID int
	err := retryWithBackoff(ctx, joinMaxAttempts, joinBaseDelay, func() error {
		id, err := s.claimSeat(ctx, userID)
		if err != nil {
			return err
		}
		lobbyID = id
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to join matchmaking: %w", err)
	}

	// Пересчитываем после вступления - кэшированному счётчику не доверяем.
	if _, err := s.lobbies.RecomputeLobbyPlayerCount(ctx, lobbyID); err != nil {
		return 0, fmt.Errorf("failed to recompute lobby %d after join: %w", lobbyID, err)
	}
	publishEvent(s.publisher, lobbyID, EventLobbyUpdated, map[string]int{"lobby_id": lobbyID, "user_id": userID})

	return lobbyID, nil
}

// resumeExisting returns the user's current lobby when the participation is
// still usable, abandoning it when the lobby is stale or already consumed by
// a tournament.
func (s *MatchmakingService) resumeExisting(ctx context.Context, userID int) (int, bool, error) {
	p, err := s.participantRepo.FindActiveByUser(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to look up active participation: %w", err)
	}

	lobby, err := s.lobbyRepo.GetByID(ctx, nil, p.LobbyID)
	if err != nil {
		if errors.Is(err, repositories.ErrLobbyNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to load lobby %d: %w", p.LobbyID, err)
	}

	now := time.Now()
	if lobby.TournamentID == nil && !lobby.IsStale(s.lobbyTTL, now) {
		return lobby.ID, true, nil
	}

	// Участие устарело или уже сконвертировано в турнир - оставляем лобби.
	if err := s.participantRepo.UpdateStatus(ctx, nil, p.ID, models.ParticipantLeft, false); err != nil {
		return 0, false, fmt.Errorf("failed to abandon stale participation: %w", err)
	}
	if lobby.TournamentID == nil {
		if _, err := s.lobbies.RecomputeLobbyPlayerCount(ctx, lobby.ID); err != nil {
			s.logger.Warn("failed to recompute abandoned lobby",
				slog.Int("lobby_id", lobby.ID), slog.Any("error", err))
		}
	}
	return 0, false, nil
}

// claimSeat is one transactional attempt to take a seat in a waiting lobby
// (or a brand new one). FOR UPDATE SKIP LOCKED keeps concurrent matchmakers
// off each other's candidates.
func (s *MatchmakingService) claimSeat(ctx context.Context, userID int) (int, error) {
	var lobbyID int
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		lobby, err := s.lobbyRepo.FindJoinableForUpdate(ctx, exec, time.Now().Add(-s.lobbyTTL))
		if err != nil {
			if !errors.Is(err, repositories.ErrLobbyNotFound) {
				return err
			}
			lobby = &models.Lobby{
				Status:         models.LobbyStatusWaiting,
				Capacity:       s.capacity,
				CurrentPlayers: 0,
			}
			if err := s.lobbyRepo.Create(ctx, exec, lobby); err != nil {
				return err
			}
		}

		participant := &models.LobbyParticipant{
			LobbyID: lobby.ID,
			UserID:  userID,
			Status:  models.ParticipantSearching,
			IsReady: false,
		}
		if err := s.participantRepo.Upsert(ctx, exec, participant); err != nil {
			return err
		}

		count, err := s.participantRepo.CountActive(ctx, exec, lobby.ID)
		if err != nil {
			return err
		}
		if err := s.lobbyRepo.UpdatePlayerCount(ctx, exec, lobby.ID, count); err != nil {
			return err
		}

		lobbyID = lobby.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return lobbyID, nil
}
