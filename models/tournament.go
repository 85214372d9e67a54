package models

import "time"

// TournamentStatus представляет статусы турнира, соответствующие ENUM в БД.
type TournamentStatus string

const (
	TournamentStatusActive    TournamentStatus = "active"
	TournamentStatusCompleted TournamentStatus = "completed"
	TournamentStatusCanceled  TournamentStatus = "canceled"
)

// Tournament - материализованный из лобби турнир.
// LobbyID is 1:1 with the source lobby, enforced by a UNIQUE constraint that
// backstops exactly-once materialization.
type Tournament struct {
	ID        int              `json:"id" db:"id"`
	LobbyID   int              `json:"lobby_id" db:"lobby_id"`
	Status    TournamentStatus `json:"status" db:"status"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`

	// Опциональные связанные сущности (не мапятся напрямую)
	Participants []TournamentParticipant `json:"participants,omitempty" db:"-"`
	Matches      []Match                 `json:"matches,omitempty" db:"-"`
}

// TournamentParticipant - место игрока в сформированном турнире.
// Seed is the join order in the source lobby.
type TournamentParticipant struct {
	ID           int       `json:"id" db:"id"`
	TournamentID int       `json:"tournament_id" db:"tournament_id"`
	UserID       int       `json:"user_id" db:"user_id"`
	Seed         int       `json:"seed" db:"seed"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`

	User *User `json:"user,omitempty" db:"-"`
}
