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
	ErrParticipantNotFound = errors.New("lobby participant not found")
	// ErrParticipantNotActive: conditional update required an occupied seat
	// (status in searching/ready) and the row no longer has one.
	ErrParticipantNotActive   = errors.New("participant is not an active lobby member")
	ErrParticipantUserInvalid = errors.New("participant user reference invalid")
)

type LobbyParticipantRepository interface {
	// Upsert inserts the (lobby, user) membership or revives an existing row
	// back to searching. Keyed by the UNIQUE(lobby_id, user_id) constraint.
	Upsert(ctx context.Context, exec SQLExecutor, p *models.LobbyParticipant) error
	// FindActiveByUser returns the user's current participation with status in
	// {searching, ready}, newest first, or ErrParticipantNotFound.
	FindActiveByUser(ctx context.Context, exec SQLExecutor, userID int) (*models.LobbyParticipant, error)
	FindByLobbyAndUser(ctx context.Context, exec SQLExecutor, lobbyID, userID int) (*models.LobbyParticipant, error)
	// ListActiveByLobby returns occupants in join order (round-robin seeding
	// depends on this ordering).
	ListActiveByLobby(ctx context.Context, exec SQLExecutor, lobbyID int) ([]*models.LobbyParticipant, error)
	UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.LobbyParticipantStatus, isReady bool) error
	// SetReady marks the caller ready, conditional on an occupied seat.
	SetReady(ctx context.Context, exec SQLExecutor, lobbyID, userID int) error
	// ResetReady rolls every ready occupant of the lobby back to searching.
	ResetReady(ctx context.Context, exec SQLExecutor, lobbyID int) error
	// EvictAll marks every active occupant of the lobby as left.
	EvictAll(ctx context.Context, exec SQLExecutor, lobbyID int) error
	CountActive(ctx context.Context, exec SQLExecutor, lobbyID int) (int, error)
	CountReady(ctx context.Context, exec SQLExecutor, lobbyID int) (int, error)
}

type postgresLobbyParticipantRepository struct {
	db *sql.DB
}

func NewPostgresLobbyParticipantRepository(db *sql.DB) LobbyParticipantRepository {
	return &postgresLobbyParticipantRepository{db: db}
}

func (r *postgresLobbyParticipantRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const participantColumns = `id, lobby_id, user_id, status, is_ready, created_at`

func (r *postgresLobbyParticipantRepository) scanParticipant(rowScanner interface {
	Scan(dest ...interface{}) error
}, p *models.LobbyParticipant) error {
	return rowScanner.Scan(
		&p.ID,
		&p.LobbyID,
		&p.UserID,
		&p.Status,
		&p.IsReady,
		&p.CreatedAt,
	)
}

func (r *postgresLobbyParticipantRepository) Upsert(ctx context.Context, exec SQLExecutor, p *models.LobbyParticipant) error {
	query := `
		INSERT INTO lobby_participants (lobby_id, user_id, status, is_ready)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT lobby_participants_lobby_id_user_id_key
		DO UPDATE SET status = EXCLUDED.status, is_ready = EXCLUDED.is_ready
		RETURNING id, created_at`

	err := r.getExecutor(exec).QueryRowContext(ctx, query,
		p.LobbyID, p.UserID, p.Status, p.IsReady,
	).Scan(&p.ID, &p.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" { // foreign_key_violation
			return ErrParticipantUserInvalid
		}
		return fmt.Errorf("failed to upsert lobby participant: %w", err)
	}
	return nil
}

func (r *postgresLobbyParticipantRepository) findOne(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) (*models.LobbyParticipant, error) {
	p := &models.LobbyParticipant{}
	err := r.scanParticipant(r.getExecutor(exec).QueryRowContext(ctx, query, args...), p)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to find lobby participant: %w", err)
	}
	return p, nil
}

func (r *postgresLobbyParticipantRepository) FindActiveByUser(ctx context.Context, exec SQLExecutor, userID int) (*models.LobbyParticipant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM lobby_participants
		WHERE user_id = $1 AND status IN ('searching', 'ready')
		ORDER BY created_at DESC
		LIMIT 1`
	return r.findOne(ctx, exec, query, userID)
}

func (r *postgresLobbyParticipantRepository) FindByLobbyAndUser(ctx context.Context, exec SQLExecutor, lobbyID, userID int) (*models.LobbyParticipant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM lobby_participants
		WHERE lobby_id = $1 AND user_id = $2`
	return r.findOne(ctx, exec, query, lobbyID, userID)
}

func (r *postgresLobbyParticipantRepository) ListActiveByLobby(ctx context.Context, exec SQLExecutor, lobbyID int) ([]*models.LobbyParticipant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM lobby_participants
		WHERE lobby_id = $1 AND status IN ('searching', 'ready')
		ORDER BY created_at ASC, id ASC`

	rows, err := r.getExecutor(exec).QueryContext(ctx, query, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active participants for lobby %d: %w", lobbyID, err)
	}
	defer rows.Close()

	participants := make([]*models.LobbyParticipant, 0)
	for rows.Next() {
		p := &models.LobbyParticipant{}
		if err := r.scanParticipant(rows, p); err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participant rows: %w", err)
	}
	return participants, nil
}

func (r *postgresLobbyParticipantRepository) UpdateStatus(ctx context.Context, exec SQLExecutor, id int, status models.LobbyParticipantStatus, isReady bool) error {
	query := `UPDATE lobby_participants SET status = $1, is_ready = $2 WHERE id = $3`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, status, isReady, id)
	if err != nil {
		return fmt.Errorf("failed to update participant status: %w", err)
	}
	return checkAffectedRows(result, ErrParticipantNotFound)
}

func (r *postgresLobbyParticipantRepository) SetReady(ctx context.Context, exec SQLExecutor, lobbyID, userID int) error {
	query := `
		UPDATE lobby_participants
		SET status = 'ready', is_ready = TRUE
		WHERE lobby_id = $1 AND user_id = $2 AND status IN ('searching', 'ready')`

	result, err := r.getExecutor(exec).ExecContext(ctx, query, lobbyID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark participant ready: %w", err)
	}
	return checkAffectedRows(result, ErrParticipantNotActive)
}

func (r *postgresLobbyParticipantRepository) ResetReady(ctx context.Context, exec SQLExecutor, lobbyID int) error {
	query := `
		UPDATE lobby_participants
		SET status = 'searching', is_ready = FALSE
		WHERE lobby_id = $1 AND status = 'ready'`

	if _, err := r.getExecutor(exec).ExecContext(ctx, query, lobbyID); err != nil {
		return fmt.Errorf("failed to reset ready participants for lobby %d: %w", lobbyID, err)
	}
	return nil
}

func (r *postgresLobbyParticipantRepository) EvictAll(ctx context.Context, exec SQLExecutor, lobbyID int) error {
	query := `
		UPDATE lobby_participants
		SET status = 'left', is_ready = FALSE
		WHERE lobby_id = $1 AND status IN ('searching', 'ready')`

	if _, err := r.getExecutor(exec).ExecContext(ctx, query, lobbyID); err != nil {
		return fmt.Errorf("failed to evict participants from lobby %d: %w", lobbyID, err)
	}
	return nil
}

func (r *postgresLobbyParticipantRepository) count(ctx context.Context, exec SQLExecutor, query string, lobbyID int) (int, error) {
	var n int
	if err := r.getExecutor(exec).QueryRowContext(ctx, query, lobbyID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count participants for lobby %d: %w", lobbyID, err)
	}
	return n, nil
}

func (r *postgresLobbyParticipantRepository) CountActive(ctx context.Context, exec SQLExecutor, lobbyID int) (int, error) {
	query := `
		SELECT COUNT(*) FROM lobby_participants
		WHERE lobby_id = $1 AND status IN ('searching', 'ready')`
	return r.count(ctx, exec, query, lobbyID)
}

func (r *postgresLobbyParticipantRepository) CountReady(ctx context.Context, exec SQLExecutor, lobbyID int) (int, error) {
	query := `
		SELECT COUNT(*) FROM lobby_participants
		WHERE lobby_id = $1 AND status = 'ready' AND is_ready`
	return r.count(ctx, exec, query, lobbyID)
}
