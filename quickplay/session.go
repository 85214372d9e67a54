package quickplay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Dosada05/quickplay-matchmaking/services"
	"github.com/google/uuid"
)

// State - состояние клиентской сессии матчмейкинга.
type State string

const (
	StateIdle            State = "idle"
	StateSearching       State = "searching"
	StateReadyCheck      State = "ready_check"
	StateTournamentReady State = "tournament_ready"
	StateCancelled       State = "cancelled"
	StateError           State = "error"
)

var (
	ErrNotSearching = errors.New("session is not in an active search")
	ErrNoReadyCheck = errors.New("session is not in a ready check")
)

// Snapshot - иммутабельный срез сессии для UI.
type Snapshot struct {
	SessionID        uuid.UUID
	State            State
	LobbyID          int
	TournamentID     int // 0 - турнира ещё нет
	Participants     []int
	ReadyPlayers     []int
	CountdownSeconds int
	Reason           string
}

// Config - настройки сессии. Zero values заменяются дефолтами.
type Config struct {
	// Window - длительность ready-check'а; нужна только для отображения
	// обратного отсчёта. Authority is the stored timestamp, never a local
	// decrementing counter.
	Window time.Duration
	// ActiveInterval - период опроса во время ready-check, IdleInterval -
	// в остальное время.
	ActiveInterval time.Duration
	IdleInterval   time.Duration
	// FailureThreshold - число подряд неудачных тиков до сброса транспорта,
	// FailureGrace - сколько ещё терпеть после сброса до жёсткой ошибки.
	FailureThreshold int
	FailureGrace     int
	// ResetTransport вызывается при достижении FailureThreshold.
	ResetTransport func()
	// OnChange вызывается после каждого тика реконсиляции и каждого
	// локального перехода.
	OnChange func(Snapshot)
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = 30 * time.Second
	}
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = time.Second
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 1500 * time.Millisecond
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.FailureGrace <= 0 {
		c.FailureGrace = 5
	}
}

// Session - персональный автомат одного игрока поверх Backend.
//
//	idle -> searching -> ready_check -> (tournament_ready | cancelled | error)
//
// Единственный успешный терминал - наблюдение непустого tournament_id.
type Session struct {
	id      uuid.UUID
	userID  int
	backend Backend
	cfg     Config

	mu                  sync.Mutex
	state               State
	lobbyID             int
	tournamentID        int
	participants        []int
	readyPlayers        []int
	readyCheckStartedAt *time.Time
	reason              string
	failures            int
	cancelLoop          context.CancelFunc
	loopDone            chan struct{}
}

// Done возвращает канал, закрывающийся при остановке цикла реконсиляции.
// До первого StartSearch возвращает nil.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopDone
}

func NewSession(backend Backend, userID int, cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{
		id:      uuid.New(),
		userID:  userID,
		backend: backend,
		cfg:     cfg,
		state:   StateIdle,
	}
}

// StartSearch входит в матчмейкинг и запускает цикл реконсиляции.
// Idempotent: an already searching session returns its current lobby.
func (s *Session) StartSearch(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.state == StateSearching || s.state == StateReadyCheck {
		lobbyID := s.lobbyID
		s.mu.Unlock()
		return lobbyID, nil
	}
	s.mu.Unlock()

	lobbyID, err := s.backend.FindOrCreateLobby(ctx, s.userID)
	if err != nil {
		s.transition(func() {
			s.state = StateError
			s.reason = err.Error()
		})
		return 0, err
	}

	s.mu.Lock()
	s.stopLoopLocked()
	s.state = StateSearching
	s.lobbyID = lobbyID
	s.tournamentID = 0
	s.reason = ""
	s.failures = 0

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancelLoop = cancel
	s.loopDone = make(chan struct{})
	go s.reconcile(loopCtx, s.loopDone)
	s.mu.Unlock()

	s.notify()
	return lobbyID, nil
}

// CancelSearch - добровольный выход из лобби на любой стадии.
func (s *Session) CancelSearch(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateSearching && s.state != StateReadyCheck {
		s.mu.Unlock()
		return ErrNotSearching
	}
	lobbyID := s.lobbyID
	s.mu.Unlock()

	if err := s.backend.Leave(ctx, lobbyID, s.userID); err != nil && !errors.Is(err, services.ErrNotInLobby) {
		return err
	}

	s.transition(func() {
		s.stopLoopLocked()
		s.state = StateCancelled
		s.reason = "cancelled by user"
	})
	return nil
}

// ConfirmReady подтверждает готовность в активном ready-check.
func (s *Session) ConfirmReady(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReadyCheck {
		s.mu.Unlock()
		return ErrNoReadyCheck
	}
	lobbyID := s.lobbyID
	s.mu.Unlock()

	status, err := s.backend.MarkReady(ctx, lobbyID, s.userID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInsufficientPlayers):
			s.transition(func() {
				s.stopLoopLocked()
				s.state = StateCancelled
				s.reason = "ready check expired"
			})
		case errors.Is(err, services.ErrInvalidLobbyState):
			// Состояние ушло из-под нас - пусть решает следующий тик.
		default:
			s.transition(func() {
				s.stopLoopLocked()
				s.state = StateError
				s.reason = err.Error()
			})
		}
		return err
	}

	if status.TournamentID != nil {
		s.transition(func() {
			s.stopLoopLocked()
			s.state = StateTournamentReady
			s.tournamentID = *status.TournamentID
		})
	}
	return nil
}

// Close останавливает цикл реконсиляции, не трогая серверное состояние.
func (s *Session) Close() {
	s.mu.Lock()
	s.stopLoopLocked()
	s.mu.Unlock()
}

// Snapshot возвращает текущий срез сессии.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:    s.id,
		State:        s.state,
		LobbyID:      s.lobbyID,
		TournamentID: s.tournamentID,
		Reason:       s.reason,
	}
	snap.Participants = append(snap.Participants, s.participants...)
	snap.ReadyPlayers = append(snap.ReadyPlayers, s.readyPlayers...)
	if s.state == StateReadyCheck && s.readyCheckStartedAt != nil {
		// Остаток всегда выводится из персистентного штампа.
		remaining := s.cfg.Window - time.Since(*s.readyCheckStartedAt)
		if remaining < 0 {
			remaining = 0
		}
		snap.CountdownSeconds = int(remaining / time.Second)
	}
	return snap
}

// stopLoopLocked must be called with s.mu held.
func (s *Session) stopLoopLocked() {
	if s.cancelLoop != nil {
		s.cancelLoop()
		s.cancelLoop = nil
	}
}

// transition применяет мутацию под мьютексом и уведомляет наблюдателя.
func (s *Session) transition(mutate func()) {
	s.mu.Lock()
	mutate()
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	if s.cfg.OnChange == nil {
		return
	}
	s.cfg.OnChange(s.Snapshot())
}
