package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Dosada05/quickplay-matchmaking/models"
	"github.com/Dosada05/quickplay-matchmaking/repositories"
	"golang.org/x/sync/singleflight"
)

// errReadyCheckExpired is internal: the countdown already ran out when the
// confirmation arrived. Mapped to ErrInsufficientPlayers after cancellation.
var errReadyCheckExpired = errors.New("ready check countdown expired")

// ReadyStatus - итог подтверждения готовности.
type ReadyStatus struct {
	LobbyID      int  `json:"lobby_id"`
	ReadyCount   int  `json:"ready_count"`
	Capacity     int  `json:"capacity"`
	AllReady     bool `json:"all_ready"`
	TournamentID *int `json:"tournament_id,omitempty"`
}

// ReadyCheckService ведёт таймер готовности заполненного лобби: собирает
// подтверждения, считает оставшееся время от персистентного штампа
// ready_check_started_at (клиентский обратный отсчёт - только отображение)
// и решает pass/fail.
type ReadyCheckService struct {
	tx              repositories.TxRunner
	lobbyRepo       repositories.LobbyRepository
	participantRepo repositories.LobbyParticipantRepository
	materializer    *MaterializerService

	window   time.Duration
	lobbyTTL time.Duration

	// group collapses concurrent in-process Materialize calls. Only an
	// optimization: the store's uniqueness constraint is the backstop.
	group singleflight.Group

	publisher EventPublisher
	logger    *slog.Logger
}

func NewReadyCheckService(
	tx repositories.TxRunner,
	lobbyRepo repositories.LobbyRepository,
	participantRepo repositories.LobbyParticipantRepository,
	materializer *MaterializerService,
	window time.Duration,
	lobbyTTL time.Duration,
	publisher EventPublisher,
	logger *slog.Logger,
) *ReadyCheckService {
	return &ReadyCheckService{
		tx:              tx,
		lobbyRepo:       lobbyRepo,
		participantRepo: participantRepo,
		materializer:    materializer,
		window:          window,
		lobbyTTL:        lobbyTTL,
		publisher:       publisher,
		logger:          logger,
	}
}

// Window reports the configured countdown duration.
func (s *ReadyCheckService) Window() time.Duration {
	return s.window
}

// MarkReady подтверждает готовность игрока в активном ready-check.
//
// Fails with ErrInvalidLobbyState unless the lobby is in ready_check with
// exactly capacity occupied seats. When the caller's confirmation completes
// the set, the tournament is materialized before returning.
func (s *ReadyCheckService) MarkReady(ctx context.Context, lobbyID, userID int) (*ReadyStatus, error) {
	if userID <= 0 {
		return nil, ErrNotAuthenticated
	}

	var status ReadyStatus
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		l, err := s.lobbyRepo.GetByIDForUpdate(ctx, exec, lobbyID)
		if err != nil {
			return err
		}
		if l.TournamentID != nil {
			// Турнир уже существует - подтверждать нечего, клиенту пора
			// переходить к нему.
			status = ReadyStatus{LobbyID: l.ID, ReadyCount: l.Capacity, Capacity: l.Capacity, AllReady: true, TournamentID: l.TournamentID}
			return nil
		}
		if l.Status != models.LobbyStatusReadyCheck || l.ReadyCheckStartedAt == nil {
			return ErrInvalidLobbyState
		}
		if time.Since(*l.ReadyCheckStartedAt) > s.window {
			return errReadyCheckExpired
		}

		active, err := s.participantRepo.CountActive(ctx, exec, lobbyID)
		if err != nil {
			return err
		}
		if active != l.Capacity {
			return ErrInvalidLobbyState
		}

		if err := s.participantRepo.SetReady(ctx, exec, lobbyID, userID); err != nil {
			if errors.Is(err, repositories.ErrParticipantNotActive) {
				return ErrNotInLobby
			}
			return err
		}

		ready, err := s.participantRepo.CountReady(ctx, exec, lobbyID)
		if err != nil {
			return err
		}
		// Оба условия обязательны - только счётчик готовых может врать при
		// рассинхронизации статусов.
		status = ReadyStatus{
			LobbyID:    l.ID,
			ReadyCount: ready,
			Capacity:   l.Capacity,
			AllReady:   ready == l.Capacity && active == l.Capacity,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errReadyCheckExpired) {
			if cancelErr := s.cancelLobby(ctx, lobbyID); cancelErr != nil {
				s.logger.Error("failed to cancel expired ready check",
					slog.Int("lobby_id", lobbyID), slog.Any("error", cancelErr))
			}
			return nil, ErrInsufficientPlayers
		}
		if errors.Is(err, repositories.ErrLobbyNotFound) {
			return nil, ErrLobbyNotFound
		}
		if errors.Is(err, ErrInvalidLobbyState) || errors.Is(err, ErrNotInLobby) || errors.Is(err, ErrNotAuthenticated) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to mark ready in lobby %d: %w", lobbyID, err)
	}

	publishEvent(s.publisher, lobbyID, EventLobbyUpdated, status)

	if status.AllReady && status.TournamentID == nil {
		tournamentID, err := s.materializeOnce(ctx, lobbyID)
		if err != nil {
			return nil, err
		}
		status.TournamentID = &tournamentID
		publishEvent(s.publisher, lobbyID, EventTournamentCreated, map[string]int{
			"lobby_id":      lobbyID,
			"tournament_id": tournamentID,
		})
	}
	return &status, nil
}

// materializeOnce funnels concurrent all-ready observers through one
// in-flight materialization per lobby.
func (s *ReadyCheckService) materializeOnce(ctx context.Context, lobbyID int) (int, error) {
	v, err, _ := s.group.Do(strconv.Itoa(lobbyID), func() (interface{}, error) {
		return s.materializer.Materialize(ctx, lobbyID)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// SweepExpired отменяет просроченные ready-check'и.
//
// Expiry cancels the whole lobby: every remaining participant is evicted to
// left and the lobby returns to waiting with zero seats. Keeping the
// confirmers around would just re-seat them with the same no-shows.
func (s *ReadyCheckService) SweepExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-s.window)
	lobbies, err := s.lobbyRepo.ListReadyCheckStartedBefore(ctx, nil, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list expired ready checks: %w", err)
	}
	for _, l := range lobbies {
		if err := s.cancelLobby(ctx, l.ID); err != nil {
			s.logger.Error("failed to cancel expired lobby",
				slog.Int("lobby_id", l.ID), slog.Any("error", err))
			continue
		}
		s.logger.Info("ready check expired, lobby cancelled", slog.Int("lobby_id", l.ID))
	}
	return nil
}

// SweepStale разгоняет лобби, простоявшие в waiting дольше TTL.
func (s *ReadyCheckService) SweepStale(ctx context.Context) error {
	cutoff := time.Now().Add(-s.lobbyTTL)
	lobbies, err := s.lobbyRepo.ListWaitingCreatedBefore(ctx, nil, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale lobbies: %w", err)
	}
	for _, l := range lobbies {
		if err := s.drainLobby(ctx, l.ID); err != nil {
			s.logger.Error("failed to drain stale lobby",
				slog.Int("lobby_id", l.ID), slog.Any("error", err))
			continue
		}
		s.logger.Info("stale lobby drained", slog.Int("lobby_id", l.ID))
	}
	return nil
}

// cancelLobby evicts everyone from a lobby whose ready check expired and
// returns it to waiting. Re-validates under the row lock so a lobby that
// completed materialization or already rolled back is untouched.
func (s *ReadyCheckService) cancelLobby(ctx context.Context, lobbyID int) error {
	var cancelled bool
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		l, err := s.lobbyRepo.GetByIDForUpdate(ctx, exec, lobbyID)
		if err != nil {
			return err
		}
		if l.TournamentID != nil || l.Status != models.LobbyStatusReadyCheck {
			return nil
		}
		if l.ReadyCheckStartedAt != nil && time.Since(*l.ReadyCheckStartedAt) <= s.window {
			// Чек успели перезапустить - не трогаем.
			return nil
		}
		if err := s.participantRepo.EvictAll(ctx, exec, lobbyID); err != nil {
			return err
		}
		if err := s.lobbyRepo.TransitionStatus(ctx, exec, lobbyID, models.LobbyStatusReadyCheck, models.LobbyStatusWaiting, nil); err != nil {
			return err
		}
		if err := s.lobbyRepo.UpdatePlayerCount(ctx, exec, lobbyID, 0); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return err
	}
	if cancelled {
		publishEvent(s.publisher, lobbyID, EventReadyCheckCancelled, map[string]interface{}{
			"lobby_id": lobbyID,
			"reason":   "timeout",
		})
	}
	return nil
}

func (s *ReadyCheckService) drainLobby(ctx context.Context, lobbyID int) error {
	var drained bool
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		l, err := s.lobbyRepo.GetByIDForUpdate(ctx, exec, lobbyID)
		if err != nil {
			return err
		}
		if l.TournamentID != nil || l.Status != models.LobbyStatusWaiting {
			return nil
		}
		if !l.IsStale(s.lobbyTTL, time.Now()) || l.CurrentPlayers == 0 {
			return nil
		}
		if err := s.participantRepo.EvictAll(ctx, exec, lobbyID); err != nil {
			return err
		}
		if err := s.lobbyRepo.UpdatePlayerCount(ctx, exec, lobbyID, 0); err != nil {
			return err
		}
		drained = true
		return nil
	})
	if err != nil {
		return err
	}
	if drained {
		publishEvent(s.publisher, lobbyID, EventLobbyUpdated, map[string]interface{}{
			"lobby_id": lobbyID,
			"reason":   "stale",
		})
	}
	return nil
}
