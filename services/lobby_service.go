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

// LobbyService поддерживает согласованность членства в лобби: счётчик мест
// и переходы waiting <-> ready_check.
//
// Every method is safe to call redundantly and concurrently from many
// clients' reconciliation loops: read-modify-write sections run under a row
// lock and degrade to no-ops when state already matches.
type LobbyService struct {
	tx              repositories.TxRunner
	lobbyRepo       repositories.LobbyRepository
	participantRepo repositories.LobbyParticipantRepository

	publisher EventPublisher
	logger    *slog.Logger
}

func NewLobbyService(
	tx repositories.TxRunner,
	lobbyRepo repositories.LobbyRepository,
	participantRepo repositories.LobbyParticipantRepository,
	publisher EventPublisher,
	logger *slog.Logger,
) *LobbyService {
	return &LobbyService{
		tx:              tx,
		lobbyRepo:       lobbyRepo,
		participantRepo: participantRepo,
		publisher:       publisher,
		logger:          logger,
	}
}

// lobbyTransition captures what recompute changed, for event publication
// outside the transaction.
type lobbyTransition struct {
	startedReadyCheck   bool
	cancelledReadyCheck bool
}

// RecomputeLobbyPlayerCount пересчитывает занятые места и применяет переходы
// статуса лобби.
//
//   - count == capacity and lobby waiting  -> ready_check, stamp started_at
//   - count <  capacity and lobby in check -> waiting, full rollback of every
//     ready participant (an incomplete ready-check is never partially kept)
//   - no-op once tournament_id is set (the lobby is frozen)
func (s *LobbyService) RecomputeLobbyPlayerCount(ctx context.Context, lobbyID int) (*models.Lobby, error) {
	var (
		lobby      *models.Lobby
		transition lobbyTransition
	)
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		l, err := s.lobbyRepo.GetByIDForUpdate(ctx, exec, lobbyID)
		if err != nil {
			return err
		}
		t, err := s.recomputeLocked(ctx, exec, l)
		if err != nil {
			return err
		}
		lobby, transition = l, t
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrLobbyNotFound) {
			return nil, ErrLobbyNotFound
		}
		return nil, fmt.Errorf("failed to recompute lobby %d: %w", lobbyID, err)
	}

	s.publishTransition(lobby, transition)
	return lobby, nil
}

// Leave помечает участника вышедшим и пересчитывает лобби. Если лобби было в
// ready_check, выход отменяет весь чек: готовность остальных сбрасывается,
// потому что "3 из 4 готовы" без четвёртого места смысла не имеет.
func (s *LobbyService) Leave(ctx context.Context, lobbyID, userID int) error {
	var (
		lobby      *models.Lobby
		transition lobbyTransition
	)
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		l, err := s.lobbyRepo.GetByIDForUpdate(ctx, exec, lobbyID)
		if err != nil {
			return err
		}
		if l.TournamentID != nil {
			// Лобби заморожено - участие уже сконвертировано в турнир.
			lobby = l
			return nil
		}

		p, err := s.participantRepo.FindByLobbyAndUser(ctx, exec, lobbyID, userID)
		if err != nil {
			if errors.Is(err, repositories.ErrParticipantNotFound) {
				return ErrNotInLobby
			}
			return err
		}
		if p.Active() {
			if err := s.participantRepo.UpdateStatus(ctx, exec, p.ID, models.ParticipantLeft, false); err != nil {
				return err
			}
		}

		t, err := s.recomputeLocked(ctx, exec, l)
		if err != nil {
			return err
		}
		lobby, transition = l, t
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrLobbyNotFound) {
			return ErrLobbyNotFound
		}
		if errors.Is(err, ErrNotInLobby) {
			return err
		}
		return fmt.Errorf("failed to leave lobby %d: %w", lobbyID, err)
	}

	s.publishTransition(lobby, transition)
	publishEvent(s.publisher, lobbyID, EventLobbyUpdated, map[string]int{"lobby_id": lobbyID, "user_id": userID})
	return nil
}

// GetSnapshot возвращает лобби вместе с активными участниками - основное
// чтение цикла реконсиляции.
func (s *LobbyService) GetSnapshot(ctx context.Context, lobbyID int) (*models.Lobby, error) {
	lobby, err := s.lobbyRepo.GetByID(ctx, nil, lobbyID)
	if err != nil {
		if errors.Is(err, repositories.ErrLobbyNotFound) {
			return nil, ErrLobbyNotFound
		}
		return nil, fmt.Errorf("failed to load lobby %d: %w", lobbyID, err)
	}
	participants, err := s.participantRepo.ListActiveByLobby(ctx, nil, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants for lobby %d: %w", lobbyID, err)
	}
	lobby.Participants = make([]models.LobbyParticipant, 0, len(participants))
	for _, p := range participants {
		lobby.Participants = append(lobby.Participants, *p)
	}
	return lobby, nil
}

// RepairDrift чинит рассинхронизированные строки участников: is_ready=true
// при статусе searching выравнивается до статуса ready, после чего лобби
// пересчитывается. Вызывается из цикла реконсиляции клиентов.
func (s *LobbyService) RepairDrift(ctx context.Context, lobbyID int) error {
	err := s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		l, err := s.lobbyRepo.GetByIDForUpdate(ctx, exec, lobbyID)
		if err != nil {
			return err
		}
		if l.TournamentID != nil {
			return nil
		}
		participants, err := s.participantRepo.ListActiveByLobby(ctx, exec, lobbyID)
		if err != nil {
			return err
		}
		for _, p := range participants {
			if p.IsReady && p.Status == models.ParticipantSearching {
				if err := s.participantRepo.UpdateStatus(ctx, exec, p.ID, models.ParticipantReady, true); err != nil {
					return err
				}
			}
		}
		_, err = s.recomputeLocked(ctx, exec, l)
		return err
	})
	if err != nil {
		if errors.Is(err, repositories.ErrLobbyNotFound) {
			return ErrLobbyNotFound
		}
		return fmt.Errorf("failed to repair lobby %d: %w", lobbyID, err)
	}
	return nil
}

// recomputeLocked applies the count/status consistency rules to a lobby the
// caller has already row-locked in exec.
func (s *LobbyService) recomputeLocked(ctx context.Context, exec repositories.SQLExecutor, l *models.Lobby) (lobbyTransition, error) {
	var transition lobbyTransition
	if l.TournamentID != nil {
		return transition, nil
	}

	count, err := s.participantRepo.CountActive(ctx, exec, l.ID)
	if err != nil {
		return transition, err
	}
	if count != l.CurrentPlayers {
		if err := s.lobbyRepo.UpdatePlayerCount(ctx, exec, l.ID, count); err != nil {
			return transition, err
		}
		l.CurrentPlayers = count
	}

	switch {
	case count == l.Capacity && l.Status == models.LobbyStatusWaiting:
		now := time.Now()
		if err := s.lobbyRepo.TransitionStatus(ctx, exec, l.ID, models.LobbyStatusWaiting, models.LobbyStatusReadyCheck, &now); err != nil {
			return transition, err
		}
		l.Status = models.LobbyStatusReadyCheck
		l.ReadyCheckStartedAt = &now
		transition.startedReadyCheck = true

	case count < l.Capacity && l.Status == models.LobbyStatusReadyCheck:
		if err := s.lobbyRepo.TransitionStatus(ctx, exec, l.ID, models.LobbyStatusReadyCheck, models.LobbyStatusWaiting, nil); err != nil {
			return transition, err
		}
		if err := s.participantRepo.ResetReady(ctx, exec, l.ID); err != nil {
			return transition, err
		}
		l.Status = models.LobbyStatusWaiting
		l.ReadyCheckStartedAt = nil
		transition.cancelledReadyCheck = true
	}
	return transition, nil
}

func (s *LobbyService) publishTransition(lobby *models.Lobby, t lobbyTransition) {
	if lobby == nil {
		return
	}
	if t.startedReadyCheck {
		publishEvent(s.publisher, lobby.ID, EventReadyCheckStarted, map[string]interface{}{
			"lobby_id":   lobby.ID,
			"started_at": lobby.ReadyCheckStartedAt,
		})
	}
	if t.cancelledReadyCheck {
		publishEvent(s.publisher, lobby.ID, EventReadyCheckCancelled, map[string]interface{}{
			"lobby_id": lobby.ID,
		})
	}
}
