package quickplay

import (
	"context"
	"time"

	"github.com/Dosada05/quickplay-matchmaking/models"
)

// reconcile - цикл сверки с сервером. Никогда не доверяет локальным
// таймерам и WS-пушам: каждые 1-1.5 секунды перечитывает снапшот лобби
// и выводит состояние сессии заново. Завершается при терминальном
// состоянии или отмене контекста.
func (s *Session) reconcile(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(s.tickInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if terminal := s.tick(ctx); terminal {
			return
		}
		timer.Reset(s.tickInterval())
	}
}

func (s *Session) tickInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReadyCheck {
		return s.cfg.ActiveInterval
	}
	return s.cfg.IdleInterval
}

// tick выполняет один проход: починка дрейфа, чтение снапшота, вывод
// нового состояния. Возвращает true если сессия достигла терминала.
func (s *Session) tick(ctx context.Context) bool {
	s.mu.Lock()
	lobbyID := s.lobbyID
	s.mu.Unlock()

	tickCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// RepairDrift дешёв и идемпотентен, поэтому зовём его перед чтением,
	// чтобы снапшот не показывал рассинхрон readiness-флагов.
	if err := s.backend.RepairDrift(tickCtx, lobbyID); err != nil {
		return s.recordFailure(err)
	}

	lobby, err := s.backend.LobbySnapshot(tickCtx, lobbyID)
	if err != nil {
		return s.recordFailure(err)
	}

	return s.apply(lobby)
}

// apply сверяет серверный снапшот с локальным состоянием.
func (s *Session) apply(lobby *models.Lobby) bool {
	s.mu.Lock()

	s.failures = 0

	// Терминал номер один: турнир существует. Проверяется раньше всего
	// остального, потому что после материализации участники могут быть
	// уже вычищены из лобби.
	if lobby.TournamentID != nil {
		s.state = StateTournamentReady
		s.tournamentID = *lobby.TournamentID
		s.stopLoopLocked()
		s.mu.Unlock()
		s.notify()
		return true
	}

	// Игрока больше нет среди активных участников: его выселили по
	// таймауту ready-check'а или лобби протухло.
	if !containsUser(lobby.Participants, s.userID) {
		s.state = StateCancelled
		s.reason = "removed from lobby"
		s.stopLoopLocked()
		s.mu.Unlock()
		s.notify()
		return true
	}

	s.participants = s.participants[:0]
	s.readyPlayers = s.readyPlayers[:0]
	for _, p := range lobby.Participants {
		s.participants = append(s.participants, p.UserID)
		if p.IsReady {
			s.readyPlayers = append(s.readyPlayers, p.UserID)
		}
	}

	switch lobby.Status {
	case models.LobbyStatusReadyCheck:
		s.state = StateReadyCheck
		s.readyCheckStartedAt = lobby.ReadyCheckStartedAt
	default:
		// Лобби вернулось в ожидание: кто-то вышел во время отсчёта.
		s.state = StateSearching
		s.readyCheckStartedAt = nil
	}

	s.mu.Unlock()
	s.notify()
	return false
}

// recordFailure считает подряд идущие неудачные тики. После порога
// дёргает сброс транспорта, после льготного окна переводит сессию в
// ошибку. Возвращает true при терминале.
func (s *Session) recordFailure(err error) bool {
	s.mu.Lock()

	s.failures++
	if s.failures == s.cfg.FailureThreshold && s.cfg.ResetTransport != nil {
		reset := s.cfg.ResetTransport
		s.mu.Unlock()
		reset()
		return false
	}
	if s.failures >= s.cfg.FailureThreshold+s.cfg.FailureGrace {
		s.state = StateError
		s.reason = err.Error()
		s.stopLoopLocked()
		s.mu.Unlock()
		s.notify()
		return true
	}
	s.mu.Unlock()
	return false
}

func containsUser(participants []models.LobbyParticipant, userID int) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}
