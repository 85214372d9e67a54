package models

import "time"

// LobbyParticipantStatus представляет статус участия игрока в лобби.
type LobbyParticipantStatus string

const (
	ParticipantSearching LobbyParticipantStatus = "searching"
	ParticipantReady     LobbyParticipantStatus = "ready"
	// ParticipantLeft removes the player from capacity counting; the row is
	// kept as an audit trail rather than deleted.
	ParticipantLeft LobbyParticipantStatus = "left"
)

// LobbyParticipant - членство игрока в лобби.
// Invariant: IsReady == true => Status == ready.
type LobbyParticipant struct {
	ID        int                    `json:"id" db:"id"`
	LobbyID   int                    `json:"lobby_id" db:"lobby_id"`
	UserID    int                    `json:"user_id" db:"user_id"`
	Status    LobbyParticipantStatus `json:"status" db:"status"`
	IsReady   bool                   `json:"is_ready" db:"is_ready"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`

	User *User `json:"user,omitempty" db:"-"`
}

// Active reports whether the participant still occupies a lobby seat.
func (p *LobbyParticipant) Active() bool {
	return p.Status == ParticipantSearching || p.Status == ParticipantReady
}
