package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dosada05/quickplay-matchmaking/models"
	"github.com/Dosada05/quickplay-matchmaking/repositories"
	"golang.org/x/sync/errgroup"
)

// TournamentService - чтение материализованных турниров: сам турнир,
// участники и расписание матчей.
type TournamentService struct {
	tournamentRepo repositories.TournamentRepository
	matchService   MatchService
}

func NewTournamentService(tournamentRepo repositories.TournamentRepository, matchService MatchService) *TournamentService {
	return &TournamentService{
		tournamentRepo: tournamentRepo,
		matchService:   matchService,
	}
}

// GetTournamentDetails загружает турнир с участниками и матчами. Дочерние
// коллекции грузятся параллельно.
func (s *TournamentService) GetTournamentDetails(ctx context.Context, tournamentID int) (*models.Tournament, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, nil, tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament %d: %w", tournamentID, err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		participants, err := s.tournamentRepo.ListParticipants(gCtx, nil, tournamentID)
		if err != nil {
			return fmt.Errorf("failed to load participants for tournament %d: %w", tournamentID, err)
		}
		tournament.Participants = make([]models.TournamentParticipant, 0, len(participants))
		for _, p := range participants {
			tournament.Participants = append(tournament.Participants, *p)
		}
		return nil
	})

	g.Go(func() error {
		matches, err := s.matchService.ListByTournament(gCtx, tournamentID)
		if err != nil {
			return err
		}
		tournament.Matches = make([]models.Match, 0, len(matches))
		for _, m := range matches {
			tournament.Matches = append(tournament.Matches, *m)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tournament, nil
}
