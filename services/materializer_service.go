package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/quickplay-matchmaking/brackets"
	"github.com/Dosada05/quickplay-matchmaking/models"
	"github.com/Dosada05/quickplay-matchmaking/repositories"
	"golang.org/x/sync/errgroup"
)

const (
	materializeMaxAttempts = 3
	materializeBaseDelay   = 150 * time.Millisecond
)

// errLostMaterializeRace: a concurrent materializer inserted the tournament
// first. The loser adopts the winner's row instead of retrying the insert.
var errLostMaterializeRace = errors.New("lost materialization race")

// MaterializerService - единственная точка превращения факта "лобби готово"
// в персистентный турнир с расписанием кругового формата.
//
// Exactly-once is layered: the idempotent fast path on an existing
// tournament_id, the UNIQUE(lobby_id) constraint on tournaments as the hard
// backstop, and reserve-then-fill ordering so the lobby's tournament_id is
// only observable after the whole tournament subtree exists.
type MaterializerService struct {
	tx              repositories.TxRunner
	lobbyRepo       repositories.LobbyRepository
	participantRepo repositories.LobbyParticipantRepository
	tournamentRepo  repositories.TournamentRepository
	matchRepo       repositories.MatchRepository

	logger *slog.Logger
}

func NewMaterializerService(
	tx repositories.TxRunner,
	lobbyRepo repositories.LobbyRepository,
	participantRepo repositories.LobbyParticipantRepository,
	tournamentRepo repositories.TournamentRepository,
	matchRepo repositories.MatchRepository,
	logger *slog.Logger,
) *MaterializerService {
	return &MaterializerService{
		tx:              tx,
		lobbyRepo:       lobbyRepo,
		participantRepo: participantRepo,
		tournamentRepo:  tournamentRepo,
		matchRepo:       matchRepo,
		logger:          logger,
	}
}

// Materialize конвертирует полностью готовое лобби в турнир ровно один раз.
// Любое число конкурентных вызовов возвращает один и тот же tournamentId.
func (s *MaterializerService) Materialize(ctx context.Context, lobbyID int) (int, error) {
	var tournamentID int
	err := retryWithBackoff(ctx, materializeMaxAttempts, materializeBaseDelay, func() error {
		id, err := s.attempt(ctx, lobbyID)
		if err != nil {
			return err
		}
		tournamentID = id
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPreconditionFailed) || errors.Is(err, ErrLobbyNotFound) {
			return 0, err
		}
		s.logger.Error("materialization exhausted retries",
			slog.Int("lobby_id", lobbyID), slog.Any("error", err))
		if rbErr := s.releaseForRetry(ctx, lobbyID); rbErr != nil {
			s.logger.Error("failed to release lobby after materialization failure",
				slog.Int("lobby_id", lobbyID), slog.Any("error", rbErr))
		}
		return 0, fmt.Errorf("%w: lobby %d: %v", ErrMaterializationFailed, lobbyID, err)
	}
	return tournamentID, nil
}

func (s *MaterializerService) attempt(ctx context.Context, lobbyID int) (int, error) {
	// 1. Идемпотентный быстрый путь: маркер уже записан.
	lobby, err := s.lobbyRepo.GetByID(ctx, nil, lobbyID)
	if err != nil {
		if errors.Is(err, repositories.ErrLobbyNotFound) {
			return 0, ErrLobbyNotFound
		}
		return 0, err
	}
	if lobby.TournamentID != nil {
		return *lobby.TournamentID, nil
	}

	// 2. Перепроверка предусловий: ровно capacity занятых мест, все готовы.
	participants, err := s.participantRepo.ListActiveByLobby(ctx, nil, lobbyID)
	if err != nil {
		return 0, err
	}
	if len(participants) != lobby.Capacity {
		return 0, fmt.Errorf("%w: lobby %d has %d active participants, want %d",
			ErrPreconditionFailed, lobbyID, len(participants), lobby.Capacity)
	}
	userIDs := make([]int, 0, len(participants))
	for _, p := range participants {
		if p.Status != models.ParticipantReady || !p.IsReady {
			return 0, fmt.Errorf("%w: participant %d in lobby %d is not ready",
				ErrPreconditionFailed, p.UserID, lobbyID)
		}
		userIDs = append(userIDs, p.UserID)
	}

	// 3. Reserve-then-fill: турнир и всё его поддерево в одной транзакции.
	// Вставка турнира первой - это и есть резервирование (UNIQUE lobby_id).
	tournament := &models.Tournament{LobbyID: lobbyID, Status: models.TournamentStatusActive}
	err = s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		if err := s.tournamentRepo.Create(ctx, exec, tournament); err != nil {
			if errors.Is(err, repositories.ErrTournamentLobbyConflict) {
				return errLostMaterializeRace
			}
			return err
		}
		return s.fillSubtree(ctx, exec, tournament.ID, userIDs)
	})
	if err != nil {
		if errors.Is(err, errLostMaterializeRace) {
			return s.adoptExisting(ctx, lobbyID, userIDs)
		}
		return 0, err
	}

	// 4. Маркер на лобби - последним, когда поддерево уже видно читателям.
	if err := s.finalize(ctx, lobbyID, tournament.ID); err != nil {
		return 0, err
	}
	return tournament.ID, nil
}

// fillSubtree inserts the participant rows and the full round-robin match
// set. Inserts are idempotent (ON CONFLICT DO NOTHING), so the repair path
// reuses it verbatim.
func (s *MaterializerService) fillSubtree(ctx context.Context, exec repositories.SQLExecutor, tournamentID int, userIDs []int) error {
	for i, userID := range userIDs {
		p := &models.TournamentParticipant{
			TournamentID: tournamentID,
			UserID:       userID,
			Seed:         i + 1,
		}
		if err := s.tournamentRepo.CreateParticipant(ctx, exec, p); err != nil {
			return err
		}
	}

	pairs, err := brackets.RoundRobinPairs(userIDs)
	if err != nil {
		return err
	}
	for _, pair := range pairs {
		m := &models.Match{
			TournamentID: tournamentID,
			Player1ID:    pair.Player1ID,
			Player2ID:    pair.Player2ID,
			Status:       models.MatchStatusScheduled,
		}
		if err := s.matchRepo.Create(ctx, exec, m); err != nil {
			return err
		}
	}
	return nil
}

// adoptExisting is the loser path of the insert race: fetch the winner's
// tournament, repair any missing children, finalize the lobby and return the
// winner's id so every concurrent caller agrees.
func (s *MaterializerService) adoptExisting(ctx context.Context, lobbyID int, userIDs []int) (int, error) {
	tournament, err := s.tournamentRepo.GetByLobbyID(ctx, nil, lobbyID)
	if err != nil {
		return 0, err
	}
	if err := s.repairSubtree(ctx, tournament.ID, userIDs); err != nil {
		return 0, err
	}
	if err := s.finalize(ctx, lobbyID, tournament.ID); err != nil {
		return 0, err
	}
	return tournament.ID, nil
}

// repairSubtree verifies the tournament's children and refills anything a
// partially failed writer left missing. A partially-filled tournament is
// detectable and repairable; a duplicate one is impossible.
func (s *MaterializerService) repairSubtree(ctx context.Context, tournamentID int, userIDs []int) error {
	var participantCount, matchCount int
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.tournamentRepo.CountParticipants(gCtx, nil, tournamentID)
		participantCount = n
		return err
	})
	g.Go(func() error {
		n, err := s.matchRepo.CountByTournament(gCtx, nil, tournamentID)
		matchCount = n
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	wantMatches := len(userIDs) * (len(userIDs) - 1) / 2
	if participantCount == len(userIDs) && matchCount == wantMatches {
		return nil
	}

	s.logger.Warn("repairing partially materialized tournament",
		slog.Int("tournament_id", tournamentID),
		slog.Int("participants", participantCount),
		slog.Int("matches", matchCount))

	return s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		return s.fillSubtree(ctx, exec, tournamentID, userIDs)
	})
}

// finalize writes the exactly-once marker. Losing the conditional update to
// a concurrent finalizer is fine as long as everyone agrees on the id.
func (s *MaterializerService) finalize(ctx context.Context, lobbyID, tournamentID int) error {
	err := s.lobbyRepo.AssignTournament(ctx, nil, lobbyID, tournamentID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repositories.ErrLobbyTournamentAlreadySet) {
		return err
	}
	lobby, readErr := s.lobbyRepo.GetByID(ctx, nil, lobbyID)
	if readErr != nil {
		return readErr
	}
	if lobby.TournamentID == nil || *lobby.TournamentID != tournamentID {
		// Нарушение UNIQUE(lobby_id) - так быть не должно.
		return fmt.Errorf("lobby %d finalized with unexpected tournament %v, want %d",
			lobbyID, lobby.TournamentID, tournamentID)
	}
	return nil
}

// releaseForRetry returns an exhausted lobby to waiting, keeping readiness
// flags so the next coordinator pass re-enters ready_check and retries the
// materialization from the top.
func (s *MaterializerService) releaseForRetry(ctx context.Context, lobbyID int) error {
	return s.tx.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		l, err := s.lobbyRepo.GetByIDForUpdate(ctx, exec, lobbyID)
		if err != nil {
			return err
		}
		if l.TournamentID != nil || l.Status != models.LobbyStatusReadyCheck {
			return nil
		}
		return s.lobbyRepo.TransitionStatus(ctx, exec, lobbyID, models.LobbyStatusReadyCheck, models.LobbyStatusWaiting, nil)
	})
}
