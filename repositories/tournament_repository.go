package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/quickplay-matchmaking/models"
	"github.com/lib/pq"
)

var (
	ErrTournamentNotFound = errors.New("tournament not found")
	// ErrTournamentLobbyConflict: the UNIQUE(lobby_id) constraint fired. A
	// concurrent materializer already created the tournament for this lobby;
	// the loser re-reads instead of retrying the insert.
	ErrTournamentLobbyConflict        = errors.New("tournament already exists for this lobby")
	ErrTournamentParticipantConflict  = errors.New("participant already registered for this tournament")
	ErrTournamentInvalidLobby         = errors.New("invalid lobby reference")
	ErrTournamentParticipantInvalid   = errors.New("invalid tournament participant reference")
	ErrTournamentParticipantsNotFound = errors.New("tournament participants not found")
)

type TournamentRepository interface {
	Create(ctx context.Context, exec SQLExecutor, t *models.Tournament) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error)
	GetByLobbyID(ctx context.Context, exec SQLExecutor, lobbyID int) (*models.Tournament, error)
	UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.TournamentStatus) error
	CreateParticipant(ctx context.Context, exec SQLExecutor, p *models.TournamentParticipant) error
	ListParticipants(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.TournamentParticipant, error)
	CountParticipants(ctx context.Context, exec SQLExecutor, tournamentID int) (int, error)
}

type postgresTournamentRepository struct {
	db *sql.DB
}

func NewPostgresTournamentRepository(db *sql.DB) TournamentRepository {
	return &postgresTournamentRepository{db: db}
}

func (r *postgresTournamentRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresTournamentRepository) Create(ctx context.Context, exec SQLExecutor, t *models.Tournament) error {
	query := `
		INSERT INTO tournaments (lobby_id, status)
		VALUES ($1, $2)
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query, t.LobbyID, t.Status).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code {
			case "23505": // unique_violation
				if pqErr.Constraint == "tournaments_lobby_id_key" {
					return ErrTournamentLobbyConflict
				}
			case "23503": // foreign_key_violation
				if pqErr.Constraint == "tournaments_lobby_id_fkey" {
					return ErrTournamentInvalidLobby
				}
			}
		}
		return fmt.Errorf("failed to create tournament: %w", err)
	}
	return nil
}

func (r *postgresTournamentRepository) getOne(ctx context.Context, exec SQLExecutor, query string, arg interface{}) (*models.Tournament, error) {
	t := &models.Tournament{}
	err := r.getExecutor(exec).QueryRowContext(ctx, query, arg).
		Scan(&t.ID, &t.LobbyID, &t.Status, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament: %w", err)
	}
	return t, nil
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Tournament, error) {
	query := `SELECT id, lobby_id, status, created_at FROM tournaments WHERE id = $1`
	return r.getOne(ctx, exec, query, id)
}

func (r *postgresTournamentRepository) GetByLobbyID(ctx context.Context, exec SQLExecutor, lobbyID int) (*models.Tournament, error) {
	query := `SELECT id, lobby_id, status, created_at FROM tournaments WHERE lobby_id = $1`
	return r.getOne(ctx, exec, query, lobbyID)
}

func (r *postgresTournamentRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.TournamentStatus) error {
	query := `UPDATE tournaments SET status = $1 WHERE id = $2`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update tournament status: %w", err)
	}
	return checkAffectedRows(result, ErrTournamentNotFound)
}

func (r *postgresTournamentRepository) CreateParticipant(ctx context.Context, exec SQLExecutor, p *models.TournamentParticipant) error {
	query := `
		INSERT INTO tournament_participants (tournament_id, user_id, seed)
		VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT tournament_participants_tournament_id_user_id_key DO NOTHING
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query, p.TournamentID, p.UserID, p.Seed).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		// DO NOTHING yields no row on conflict; the repair pass treats an
		// already-present participant as success.
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			return ErrTournamentParticipantInvalid
		}
		return fmt.Errorf("failed to create tournament participant: %w", err)
	}
	return nil
}

func (r *postgresTournamentRepository) ListParticipants(ctx context.Context, exec SQLExecutor, tournamentID int) ([]*models.TournamentParticipant, error) {
	query := `
		SELECT tp.id, tp.tournament_id, tp.user_id, tp.seed, tp.created_at,
		       u.id, u.nickname
		FROM tournament_participants tp
		LEFT JOIN users u ON tp.user_id = u.id
		WHERE tp.tournament_id = $1
		ORDER BY tp.seed ASC`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournament participants: %w", err)
	}
	defer rows.Close()

	participants := make([]*models.TournamentParticipant, 0)
	for rows.Next() {
		p := &models.TournamentParticipant{}
		var u models.User
		var uID sql.NullInt64
		var uNickname sql.NullString
		if err := rows.Scan(&p.ID, &p.TournamentID, &p.UserID, &p.Seed, &p.CreatedAt, &uID, &uNickname); err != nil {
			return nil, fmt.Errorf("failed to scan tournament participant row: %w", err)
		}
		if uID.Valid {
			u.ID = int(uID.Int64)
			u.Nickname = uNickname.String
			p.User = &u
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tournament participant rows: %w", err)
	}
	return participants, nil
}

func (r *postgresTournamentRepository) CountParticipants(ctx context.Context, exec SQLExecutor, tournamentID int) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM tournament_participants WHERE tournament_id = $1`
	if err := r.getExecutor(exec).QueryRowContext(ctx, query, tournamentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tournament participants: %w", err)
	}
	return n, nil
}
