package models

import "time"

// LobbyStatus представляет статусы лобби, соответствующие ENUM в БД.
type LobbyStatus string

const (
	LobbyStatusWaiting    LobbyStatus = "waiting"
	LobbyStatusReadyCheck LobbyStatus = "ready_check"
	// LobbyStatusActive is terminal: the lobby is inert once its tournament exists.
	LobbyStatusActive LobbyStatus = "active"
)

// Lobby группирует до Capacity игроков, ожидающих формирования одного турнира.
//
// Invariants kept by the service layer:
//   - TournamentID != nil  => Status == active
//   - Status == ready_check => CurrentPlayers == Capacity
//   - CurrentPlayers always equals the count of participants in {searching, ready}
type Lobby struct {
	ID                  int         `json:"id" db:"id"`
	Status              LobbyStatus `json:"status" db:"status"`
	Capacity            int         `json:"capacity" db:"capacity"`
	CurrentPlayers      int         `json:"current_players" db:"current_players"`
	ReadyCheckStartedAt *time.Time  `json:"ready_check_started_at,omitempty" db:"ready_check_started_at"`
	// TournamentID is the exactly-once marker: once set it never changes.
	TournamentID *int      `json:"tournament_id,omitempty" db:"tournament_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`

	// Опциональные связанные сущности (не мапятся напрямую)
	Participants []LobbyParticipant `json:"participants,omitempty" db:"-"`
}

// IsStale reports whether the lobby is considered abandoned by age.
func (l *Lobby) IsStale(ttl time.Duration, now time.Time) bool {
	return now.Sub(l.CreatedAt) > ttl
}
