package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/quickplay-matchmaking/models"
)

var (
	ErrLobbyNotFound = errors.New("lobby not found")
	// ErrLobbyStatusConflict means a compare-and-set update matched no row:
	// another writer changed the lobby first. Callers re-read and re-decide.
	ErrLobbyStatusConflict = errors.New("lobby status changed concurrently")
	// ErrLobbyTournamentAlreadySet means the exactly-once marker was already
	// written by a concurrent materializer.
	ErrLobbyTournamentAlreadySet = errors.New("lobby already has a tournament")
)

type LobbyRepository interface {
	Create(ctx context.Context, exec SQLExecutor, lobby *models.Lobby) error
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Lobby, error)
	// GetByIDForUpdate row-locks the lobby for the duration of the enclosing
	// transaction. All read-modify-write sections go through it.
	GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Lobby, error)
	// FindJoinableForUpdate claims a waiting lobby with a free seat, skipping
	// rows locked by concurrent matchmakers. Returns ErrLobbyNotFound when
	// every candidate is full, stale or taken.
	FindJoinableForUpdate(ctx context.Context, exec SQLExecutor, createdAfter time.Time) (*models.Lobby, error)
	UpdatePlayerCount(ctx context.Context, exec SQLExecutor, id, count int) error
	// TransitionStatus is a conditional update from oldStatus to newStatus,
	// stamping ready_check_started_at alongside. ErrLobbyStatusConflict when
	// the lobby is no longer in oldStatus.
	TransitionStatus(ctx context.Context, exec SQLExecutor, id int, oldStatus, newStatus models.LobbyStatus, readyCheckStartedAt *time.Time) error
	// AssignTournament writes the exactly-once marker and flips the lobby to
	// active, guarded by tournament_id IS NULL.
	AssignTournament(ctx context.Context, exec SQLExecutor, lobbyID, tournamentID int) error
	ListReadyCheckStartedBefore(ctx context.Context, exec SQLExecutor, cutoff time.Time) ([]*models.Lobby, error)
	ListWaitingCreatedBefore(ctx context.Context, exec SQLExecutor, cutoff time.Time) ([]*models.Lobby, error)
}

type postgresLobbyRepository struct {
	db *sql.DB
}

func NewPostgresLobbyRepository(db *sql.DB) LobbyRepository {
	return &postgresLobbyRepository{db: db}
}

func (r *postgresLobbyRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

const lobbyColumns = `id, status, capacity, current_players, ready_check_started_at, tournament_id, created_at`

func (r *postgresLobbyRepository) scanLobby(rowScanner interface {
	Scan(dest ...interface{}) error
}, l *models.Lobby) error {
	return rowScanner.Scan(
		&l.ID,
		&l.Status,
		&l.Capacity,
		&l.CurrentPlayers,
		&l.ReadyCheckStartedAt,
		&l.TournamentID,
		&l.CreatedAt,
	)
}

func (r *postgresLobbyRepository) Create(ctx context.Context, exec SQLExecutor, l *models.Lobby) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO lobbies (status, capacity, current_players)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	err := executor.QueryRowContext(ctx, query, l.Status, l.Capacity, l.CurrentPlayers).
		Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create lobby: %w", err)
	}
	return nil
}

func (r *postgresLobbyRepository) getByID(ctx context.Context, exec SQLExecutor, id int, forUpdate bool) (*models.Lobby, error) {
	query := `SELECT ` + lobbyColumns + ` FROM lobbies WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	l := &models.Lobby{}
	err := r.scanLobby(r.getExecutor(exec).QueryRowContext(ctx, query, id), l)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLobbyNotFound
		}
		return nil, fmt.Errorf("failed to get lobby %d: %w", id, err)
	}
	return l, nil
}

func (r *postgresLobbyRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Lobby, error) {
	return r.getByID(ctx, exec, id, false)
}

func (r *postgresLobbyRepository) GetByIDForUpdate(ctx context.Context, exec SQLExecutor, id int) (*models.Lobby, error) {
	return r.getByID(ctx, exec, id, true)
}

func (r *postgresLobbyRepository) FindJoinableForUpdate(ctx context.Context, exec SQLExecutor, createdAfter time.Time) (*models.Lobby, error) {
	query := `
		SELECT ` + lobbyColumns + `
		FROM lobbies
		WHERE status = 'waiting'
		  AND current_players < capacity
		  AND tournament_id IS NULL
		  AND created_at > $1
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	l := &models.Lobby{}
	err := r.scanLobby(r.getExecutor(exec).QueryRowContext(ctx, query, createdAfter), l)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLobbyNotFound
		}
		return nil, fmt.Errorf("failed to find joinable lobby: %w", err)
	}
	return l, nil
}

func (r *postgresLobbyRepository) UpdatePlayerCount(ctx context.Context, exec SQLExecutor, id, count int) error {
	query := `UPDATE lobbies SET current_players = $1 WHERE id = $2`
	result, err := r.getExecutor(exec).ExecContext(ctx, query, count, id)
	if err != nil {
		return fmt.Errorf("failed to update lobby player count: %w", err)
	}
	return checkAffectedRows(result, ErrLobbyNotFound)
}

func (r *postgresLobbyRepository) TransitionStatus(ctx context.Context, exec SQLExecutor, id int, oldStatus, newStatus models.LobbyStatus, readyCheckStartedAt *time.Time) error {
	query := `
		UPDATE lobbies
		SET status = $1, ready_check_started_at = $2
		WHERE id = $3 AND status = $4 AND tournament_id IS NULL`

	result, err := r.getExecutor(exec).ExecContext(ctx, query, newStatus, readyCheckStartedAt, id, oldStatus)
	if err != nil {
		return fmt.Errorf("failed to transition lobby %d from %s to %s: %w", id, oldStatus, newStatus, err)
	}
	return checkAffectedRows(result, ErrLobbyStatusConflict)
}

func (r *postgresLobbyRepository) AssignTournament(ctx context.Context, exec SQLExecutor, lobbyID, tournamentID int) error {
	query := `
		UPDATE lobbies
		SET tournament_id = $1, status = 'active', ready_check_started_at = NULL
		WHERE id = $2 AND tournament_id IS NULL`

	result, err := r.getExecutor(exec).ExecContext(ctx, query, tournamentID, lobbyID)
	if err != nil {
		return fmt.Errorf("failed to assign tournament %d to lobby %d: %w", tournamentID, lobbyID, err)
	}
	return checkAffectedRows(result, ErrLobbyTournamentAlreadySet)
}

func (r *postgresLobbyRepository) list(ctx context.Context, exec SQLExecutor, query string, args ...interface{}) ([]*models.Lobby, error) {
	rows, err := r.getExecutor(exec).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list lobbies: %w", err)
	}
	defer rows.Close()

	lobbies := make([]*models.Lobby, 0)
	for rows.Next() {
		l := &models.Lobby{}
		if err := r.scanLobby(rows, l); err != nil {
			return nil, fmt.Errorf("failed to scan lobby row: %w", err)
		}
		lobbies = append(lobbies, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lobby rows: %w", err)
	}
	return lobbies, nil
}

func (r *postgresLobbyRepository) ListReadyCheckStartedBefore(ctx context.Context, exec SQLExecutor, cutoff time.Time) ([]*models.Lobby, error) {
	query := `
		SELECT ` + lobbyColumns + `
		FROM lobbies
		WHERE status = 'ready_check' AND ready_check_started_at < $1`
	return r.list(ctx, exec, query, cutoff)
}

func (r *postgresLobbyRepository) ListWaitingCreatedBefore(ctx context.Context, exec SQLExecutor, cutoff time.Time) ([]*models.Lobby, error) {
	query := `
		SELECT ` + lobbyColumns + `
		FROM lobbies
		WHERE status = 'waiting' AND current_players > 0 AND created_at < $1`
	return r.list(ctx, exec, query, cutoff)
}
