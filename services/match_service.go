package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Dosada05/quickplay-matchmaking/models"
	"github.com/Dosada05/quickplay-matchmaking/repositories"
	"github.com/Dosada05/quickplay-matchmaking/storage"
	"github.com/google/uuid"
)

const maxScreenshotBytes = 5 << 20 // 5MB

// MatchService - выходной контракт материализации: просмотр расписания и
// приём результатов. Скриншоты результатов уходят в blob-хранилище.
type MatchService interface {
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error)
	SubmitResult(ctx context.Context, matchID, reporterID, p1Score, p2Score int, winnerID int) (*models.Match, error)
	AttachScreenshot(ctx context.Context, matchID, reporterID int, contentType string, size int64, reader io.Reader) (*models.Match, error)
}

type matchService struct {
	matchRepo repositories.MatchRepository
	uploader  storage.FileUploader
}

func NewMatchService(matchRepo repositories.MatchRepository, uploader storage.FileUploader) MatchService {
	return &matchService{
		matchRepo: matchRepo,
		uploader:  uploader,
	}
}

func (s *matchService) ListByTournament(ctx context.Context, tournamentID int) ([]*models.Match, error) {
	matches, err := s.matchRepo.ListByTournament(ctx, nil, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for tournament %d: %w", tournamentID, err)
	}
	for _, m := range matches {
		s.populateScreenshotURL(m)
	}
	return matches, nil
}

// SubmitResult записывает счёт и победителя. Репортить может только один из
// двух игроков матча; завершённый матч не перезаписывается.
func (s *matchService) SubmitResult(ctx context.Context, matchID, reporterID, p1Score, p2Score int, winnerID int) (*models.Match, error) {
	match, err := s.matchRepo.GetByID(ctx, nil, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	if reporterID != match.Player1ID && reporterID != match.Player2ID {
		return nil, ErrInvalidMatchResult
	}
	if match.Status == models.MatchStatusCompleted || match.Status == models.MatchStatusCanceled {
		return nil, ErrMatchAlreadyCompleted
	}
	if winnerID != match.Player1ID && winnerID != match.Player2ID {
		return nil, fmt.Errorf("%w: winner %d is not a player of match %d", ErrInvalidMatchResult, winnerID, matchID)
	}
	if p1Score < 0 || p2Score < 0 {
		return nil, fmt.Errorf("%w: negative score", ErrInvalidMatchResult)
	}

	if err := s.matchRepo.UpdateScoreStatusWinner(ctx, nil, matchID, p1Score, p2Score, models.MatchStatusCompleted, &winnerID); err != nil {
		return nil, err
	}

	match.Player1Score = &p1Score
	match.Player2Score = &p2Score
	match.Status = models.MatchStatusCompleted
	match.WinnerID = &winnerID
	s.populateScreenshotURL(match)
	return match, nil
}

func (s *matchService) AttachScreenshot(ctx context.Context, matchID, reporterID int, contentType string, size int64, reader io.Reader) (*models.Match, error) {
	match, err := s.matchRepo.GetByID(ctx, nil, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	if reporterID != match.Player1ID && reporterID != match.Player2ID {
		return nil, ErrInvalidMatchResult
	}
	if s.uploader == nil {
		return nil, errors.New("screenshot storage is not configured")
	}
	if size > maxScreenshotBytes {
		return nil, ErrScreenshotTooLarge
	}
	ext, err := GetExtensionFromContentType(contentType)
	if err != nil {
		return nil, ErrUnsupportedImageType
	}

	key := fmt.Sprintf("matches/%d/%s%s", matchID, uuid.NewString(), ext)
	if _, err := s.uploader.Upload(ctx, key, contentType, reader); err != nil {
		return nil, fmt.Errorf("failed to upload screenshot for match %d: %w", matchID, err)
	}

	oldKey := match.ScreenshotKey
	if err := s.matchRepo.UpdateScreenshotKey(ctx, nil, matchID, &key); err != nil {
		return nil, err
	}
	if oldKey != nil && *oldKey != "" {
		// Старый скриншот больше не нужен - подчищаем, ошибку не считаем
		// фатальной.
		if delErr := s.uploader.Delete(ctx, *oldKey); delErr != nil {
			fmt.Printf("failed to delete replaced screenshot %s: %v\n", *oldKey, delErr)
		}
	}

	match.ScreenshotKey = &key
	s.populateScreenshotURL(match)
	return match, nil
}

func (s *matchService) populateScreenshotURL(m *models.Match) {
	if m != nil && m.ScreenshotKey != nil && *m.ScreenshotKey != "" && s.uploader != nil {
		url := s.uploader.GetPublicURL(*m.ScreenshotKey)
		if url != "" {
			m.ScreenshotURL = &url
		}
	}
}
