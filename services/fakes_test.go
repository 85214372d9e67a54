package services

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Dosada05/quickplay-matchmaking/models"
	"github.com/Dosada05/quickplay-matchmaking/repositories"
	"github.com/stretchr/testify/require"
)

// fakeStore - in-memory хранилище для тестов сервисного слоя. Реализует
// TxRunner: критические секции сериализуются мьютексом, что воспроизводит
// row-lock семантику постгреса на уровне целого стора.
type fakeStore struct {
	mu sync.Mutex

	lobbies                map[int]*models.Lobby
	participants           map[int]*models.LobbyParticipant
	tournaments            map[int]*models.Tournament
	tournamentParticipants map[int]*models.TournamentParticipant
	matches                map[int]*models.Match

	nextLobbyID                 int
	nextParticipantID           int
	nextTournamentID            int
	nextTournamentParticipantID int
	nextMatchID                 int

	// assignHook, если задан, вызывается из AssignTournament до записи
	// маркера (под локом стора).
	assignHook func(lobbyID, tournamentID int)

	// tournamentCreateErr, если задан, возвращается из вставки турнира.
	// Инъекция транзиентных сбоев стора.
	tournamentCreateErr func() error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lobbies:                make(map[int]*models.Lobby),
		participants:           make(map[int]*models.LobbyParticipant),
		tournaments:            make(map[int]*models.Tournament),
		tournamentParticipants: make(map[int]*models.TournamentParticipant),
		matches:                make(map[int]*models.Match),
	}
}

// lock берёт мьютекс стора, если вызов идёт вне транзакции (exec == nil).
// Внутри WithinTx лок уже удерживается.
func (s *fakeStore) lock(exec repositories.SQLExecutor) func() {
	if exec != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *fakeStore) WithinTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(fakeExec{})
}

// fakeExec - непустой SQLExecutor-маркер "мы внутри транзакции". Фейковые
// репозитории никогда не исполняют через него SQL.
type fakeExec struct{}

func (fakeExec) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	panic("fake executor must not be used directly")
}

func (fakeExec) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	panic("fake executor must not be used directly")
}

func (fakeExec) QueryRowContext(context.Context, string, ...interface{}) *sql.Row {
	panic("fake executor must not be used directly")
}

// --- лобби ---

type fakeLobbyRepo struct{ store *fakeStore }

func (r *fakeLobbyRepo) Create(ctx context.Context, exec repositories.SQLExecutor, lobby *models.Lobby) error {
	unlock := r.store.lock(exec)
	defer unlock()
	r.store.nextLobbyID++
	lobby.ID = r.store.nextLobbyID
	if lobby.CreatedAt.IsZero() {
		lobby.CreatedAt = time.Now()
	}
	cp := *lobby
	r.store.lobbies[lobby.ID] = &cp
	return nil
}

func (r *fakeLobbyRepo) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Lobby, error) {
	unlock := r.store.lock(exec)
	defer unlock()
	l, ok := r.store.lobbies[id]
	if !ok {
		return nil, repositories.ErrLobbyNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *fakeLobbyRepo) GetByIDForUpdate(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Lobby, error) {
	return r.GetByID(ctx, exec, id)
}

func (r *fakeLobbyRepo) FindJoinableForUpdate(ctx context.Context, exec repositories.SQLExecutor, createdAfter time.Time) (*models.Lobby, error) {
	unlock := r.store.lock(exec)
	defer unlock()
	var best *models.Lobby
	for _, l := range r.store.lobbies {
		if l.Status != models.LobbyStatusWaiting || l.TournamentID != nil {
			continue
		}
		if l.CurrentPlayers >= l.Capacity || !l.CreatedAt.After(createdAfter) {
			continue
		}
		if best == nil || l.ID < best.ID {
			best = l
		}
	}
	if best == nil {
		return nil, repositories.ErrLobbyNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *fakeLobbyRepo) UpdatePlayerCount(ctx context.Context, exec repositories.SQLExecutor, id, count int) error {
	unlock := r.store.lock(exec)
	defer unlock()
	l, ok := r.store.lobbies[id]
	if !ok {
		return repositories.ErrLobbyNotFound
	}
	l.CurrentPlayers = count
	return nil
}

func (r *fakeLobbyRepo) TransitionStatus(ctx context.Context, exec repositories.SQLExecutor, id int, oldStatus, newStatus models.LobbyStatus, readyCheckStartedAt *time.Time) error {
	unlock := r.store.lock(exec)
	defer unlock()
	l, ok := r.store.lobbies[id]
	if !ok {
		return repositories.ErrLobbyNotFound
	}
	if l.Status != oldStatus || l.TournamentID != nil {
		return repositories.ErrLobbyStatusConflict
	}
	l.Status = newStatus
	l.ReadyCheckStartedAt = readyCheckStartedAt
	return nil
}

func (r *fakeLobbyRepo) AssignTournament(ctx context.Context, exec repositories.SQLExecutor, lobbyID, tournamentID int) error {
	unlock := r.store.lock(exec)
	defer unlock()
	l, ok := r.store.lobbies[lobbyID]
	if !ok {
		return repositories.ErrLobbyNotFound
	}
	if l.TournamentID != nil {
		return repositories.ErrLobbyTournamentAlreadySet
	}
	if r.store.assignHook != nil {
		r.store.assignHook(lobbyID, tournamentID)
	}
	tid := tournamentID
	l.TournamentID = &tid
	l.Status = models.LobbyStatusActive
	return nil
}

func (r *fakeLobbyRepo) ListReadyCheckStartedBefore(ctx context.Context, exec repositories.SQLExecutor, cutoff time.Time) ([]*models.Lobby, error) {
	unlock := r.store.lock(exec)
	defer unlock()
	var out []*models.Lobby
	for _, l := range r.store.lobbies {
		if l.Status == models.LobbyStatusReadyCheck && l.TournamentID == nil &&
			l.ReadyCheckStartedAt != nil && l.ReadyCheckStartedAt.Before(cutoff) {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeLobbyRepo) ListWaitingCreatedBefore(ctx context.Context, exec repositories.SQLExecutor, cutoff time.Time) ([]*models.Lobby, error) {
	unlock := r.store.lock(exec)
	defer unlock()
	var out []*models.Lobby
	for _, l := range r.store.lobbies {
		if l.Status == models.LobbyStatusWaiting && l.TournamentID == nil &&
			l.CurrentPlayers > 0 && l.CreatedAt.Before(cutoff) {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- участники лобби ---

type fakeParticipantRepo struct{ store *fakeStore }

func (r *fakeParticipantRepo) Upsert(ctx context.Context, exec repositories.SQLExecutor, p *models.LobbyParticipant) error {
	unlock := r.store.lock(exec)
	defer unlock()
	for _, existing := range r.store.participants {
		if existing.LobbyID == p.LobbyID && existing.UserID == p.UserID {
			existing.Status = p.Status
			existing.IsReady = p.IsReady
			p.ID = existing.ID
			p.CreatedAt = existing.CreatedAt
			return nil
		}
	}
	r.store.nextParticipantID++
	p.ID = r.store.nextParticipantID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := *p
	r.store.participants[p.ID] = &cp
	return nil
}

func (r *fakeParticipantRepo) FindActiveByUser(ctx context.Context, exec repositories.SQLExecutor, userID int) (*models.LobbyParticipant, error) {
	unlock := r.store.lock(exec)
	defer unlock()
	var newest *models.LobbyParticipant
	for _, p := range r.store.participants {
		if p.UserID == userID && p.Active() {
			if newest == nil || p.ID > newest.ID {
				newest = p
			}
		}
	}
	if newest == nil {
		return nil, repositories.ErrParticipantNotFound
	}
	cp := *newest
	return &cp, nil
}

func (r *fakeParticipantRepo) FindByLobbyAndUser(ctx context.Context, exec repositories.SQLExecutor, lobbyID, userID int) (*models.LobbyParticipant, error) {
	unlock := r.store.lock(exec)
	defer unlock()
	for _, p := range r.store.participants {
		if p.LobbyID == lobbyID && p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repositories.ErrParticipantNotFound
}

func (r *fakeParticipantRepo) ListActiveByLobby(ctx context.Context, exec repositories.SQLExecutor, lobbyID int) ([]*models.LobbyParticipant, error) {
	unlock := r.store.lock(exec)
	defer unlock()
	return r.listActiveLocked(lobbyID), nil
}

func (r *fakeParticipantRepo) listActiveLocked(lobbyID int) []*models.LobbyParticipant {
	var out []*models.LobbyParticipant
	// Порядок вступления: id монотонны, как created_at в реальной схеме.
	for id := 1; id <= r.store.nextParticipantID; id++ {
		p, ok := r.store.participants[id]
		if ok && p.LobbyID == lobbyID && p.Active() {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

func (r *fakeParticipantRepo) UpdateStatus(ctx context.Context, exec repositories.SQLExecutor, id int, status models.LobbyParticipantStatus, isReady bool) error {
	unlock := r.store.lock(exec)
	defer unlock()
	p, ok := r.store.participants[id]
	if !ok {
		return repositories.ErrParticipantNotFound
	}
	p.Status = status
	p.IsReady = isReady
	return nil
}

func (r *fakeParticipantRepo) SetReady(ctx context.Context, exec repositories.SQLExecutor, lobbyID, userID int) error {
	unlock := r.store.lock(exec)
	defer unlock()
	for _, p := range r.store.participants {
		if p.LobbyID == lobbyID && p.UserID == userID && p.Active() {
			p.Status = models.ParticipantReady
			p.IsReady = true
			return nil
		}
	}
	return repositories.ErrParticipantNotActive
}

func (r *fakeParticipantRepo) ResetReady(ctx context.Context, exec repositories.SQLExecutor, lobbyID int) error {
	unlock := r.store.lock(exec)
	defer unlock()
	for _, p := range r.store.participants {
		if p.LobbyID == lobbyID && p.Status == models.ParticipantReady {
			p.Status = models.ParticipantSearching
			p.IsReady = false
		}
	}
	return nil
}

func (r *fakeParticipantRepo) EvictAll(ctx context.Context, exec repositories.SQLExecutor, lobbyID int) error {
	unlock := r.store.lock(exec)
	defer unlock()
	for _, p := range r.store.participants {
		if p.LobbyID == lobbyID && p.Active() {
			p.Status = models.ParticipantLeft
			p.IsReady = false
		}
	}
	return nil
}

func (r *fakeParticipantRepo) CountActive(ctx context.Context, exec repositories.SQLExecutor, lobbyID int) (int, error) {
	unlock := r.store.lock(exec)
	defer unlock()
	n := 0
	for _, p := range r.store.participants {
		if p.LobbyID == lobbyID && p.Active() {
			n++
		}
	}
	return n, nil
}

func (r *fakeParticipantRepo) CountReady(ctx context.Context, exec repositories.SQLExecutor, lobbyID int) (int, error) {
	unlock := r.store.lock(exec)
	defer unlock()
	n := 0
	for _, p := range r.store.participants {
		if p.LobbyID == lobbyID && p.Status == models.ParticipantReady && p.IsReady {
			n++
		}
	}
	return n, nil
}

// --- турниры ---

type fakeTournamentRepo struct{ store *fakeStore }

func (r *fakeTournamentRepo) Create(ctx context.Context, exec repositories.SQLExecutor, t *models.Tournament) error {
	unlock := r.store.lock(exec)
	defer unlock()
	if r.store.tournamentCreateErr != nil {
		if err := r.store.tournamentCreateErr(); err != nil {
			return err
		}
	}
	for _, existing := range r.store.tournaments {
		if existing.LobbyID == t.LobbyID {
			return repositories.ErrTournamentLobbyConflict
		}
	}
	r.store.nextTournamentID++
	t.ID = r.store.nextTournamentID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := *t
	r.store.tournaments[t.ID] = &cp
	return nil
}

func (r *fakeTournamentRepo) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Tournament, error) {
	unlock := r.store.lock(exec)
	defer unlock()
	t, ok := r.store.tournaments[id]
	if !ok {
		return nil, repositories.ErrTournamentNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTournamentRepo) GetByLobbyID(ctx context.Context, exec repositories.SQLExecutor, lobbyID int) (*models.Tournament, error) {
	unlock := r.store.lock(exec)
	defer unlock()
	for _, t := range r.store.tournaments {
		if t.LobbyID == lobbyID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repositories.ErrTournamentNotFound
}

func (r *fakeTournamentRepo) UpdateStatus(ctx context.Context, exec repositories.SQLExecutor, id int, status models.TournamentStatus) error {
	unlock := r.store.lock(exec)
	defer unlock()
	t, ok := r.store.tournaments[id]
	if !ok {
		return repositories.ErrTournamentNotFound
	}
	t.Status = status
	return nil
}

func (r *fakeTournamentRepo) CreateParticipant(ctx context.Context, exec repositories.SQLExecutor, p *models.TournamentParticipant) error {
	unlock := r.store.lock(exec)
	defer unlock()
	for _, existing := range r.store.tournamentParticipants {
		if existing.TournamentID == p.TournamentID && existing.UserID == p.UserID {
			// ON CONFLICT DO NOTHING
			return nil
		}
	}
	r.store.nextTournamentParticipantID++
	p.ID = r.store.nextTournamentParticipantID
	cp := *p
	r.store.tournamentParticipants[p.ID] = &cp
	return nil
}

func (r *fakeTournamentRepo) ListParticipants(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) ([]*models.TournamentParticipant, error) {
	unlock := r.store.lock(exec)
	defer unlock()
	var out []*models.TournamentParticipant
	for id := 1; id <= r.store.nextTournamentParticipantID; id++ {
		p, ok := r.store.tournamentParticipants[id]
		if ok && p.TournamentID == tournamentID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTournamentRepo) CountParticipants(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) (int, error) {
	ps, _ := r.ListParticipants(ctx, exec, tournamentID)
	return len(ps), nil
}

// --- матчи ---

type fakeMatchRepo struct{ store *fakeStore }

func (r *fakeMatchRepo) Create(ctx context.Context, exec repositories.SQLExecutor, match *models.Match) error {
	unlock := r.store.lock(exec)
	defer unlock()
	for _, existing := range r.store.matches {
		if existing.TournamentID == match.TournamentID &&
			existing.Player1ID == match.Player1ID && existing.Player2ID == match.Player2ID {
			// ON CONFLICT DO NOTHING
			return nil
		}
	}
	r.store.nextMatchID++
	match.ID = r.store.nextMatchID
	cp := *match
	r.store.matches[match.ID] = &cp
	return nil
}

func (r *fakeMatchRepo) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Match, error) {
	unlock := r.store.lock(exec)
	defer unlock()
	m, ok := r.store.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *fakeMatchRepo) ListByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) ([]*models.Match, error) {
	unlock := r.store.lock(exec)
	defer unlock()
	var out []*models.Match
	for id := 1; id <= r.store.nextMatchID; id++ {
		m, ok := r.store.matches[id]
		if ok && m.TournamentID == tournamentID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeMatchRepo) CountByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) (int, error) {
	ms, _ := r.ListByTournament(ctx, exec, tournamentID)
	return len(ms), nil
}

func (r *fakeMatchRepo) UpdateScoreStatusWinner(ctx context.Context, exec repositories.SQLExecutor, id int, p1Score, p2Score int, status models.MatchStatus, winnerID *int) error {
	unlock := r.store.lock(exec)
	defer unlock()
	m, ok := r.store.matches[id]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	m.Player1Score = &p1Score
	m.Player2Score = &p2Score
	m.Status = status
	m.WinnerID = winnerID
	return nil
}

func (r *fakeMatchRepo) UpdateScreenshotKey(ctx context.Context, exec repositories.SQLExecutor, id int, key *string) error {
	unlock := r.store.lock(exec)
	defer unlock()
	m, ok := r.store.matches[id]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	m.ScreenshotKey = key
	return nil
}

// --- сборка тестового окружения ---

type fixture struct {
	store        *fakeStore
	lobbyRepo    *fakeLobbyRepo
	partRepo     *fakeParticipantRepo
	tournRepo    *fakeTournamentRepo
	matchRepo    *fakeMatchRepo
	lobbies      *LobbyService
	matchmaking  *MatchmakingService
	materializer *MaterializerService
	readyChecks  *ReadyCheckService
}

func newFixture(capacity int, window, ttl time.Duration) *fixture {
	store := newFakeStore()
	lobbyRepo := &fakeLobbyRepo{store: store}
	partRepo := &fakeParticipantRepo{store: store}
	tournRepo := &fakeTournamentRepo{store: store}
	matchRepo := &fakeMatchRepo{store: store}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	lobbies := NewLobbyService(store, lobbyRepo, partRepo, nil, logger)
	matchmaking := NewMatchmakingService(store, lobbyRepo, partRepo, lobbies, capacity, ttl, nil, logger)
	materializer := NewMaterializerService(store, lobbyRepo, partRepo, tournRepo, matchRepo, logger)
	readyChecks := NewReadyCheckService(store, lobbyRepo, partRepo, materializer, window, ttl, nil, logger)

	return &fixture{
		store:        store,
		lobbyRepo:    lobbyRepo,
		partRepo:     partRepo,
		tournRepo:    tournRepo,
		matchRepo:    matchRepo,
		lobbies:      lobbies,
		matchmaking:  matchmaking,
		materializer: materializer,
		readyChecks:  readyChecks,
	}
}

// fillLobby прогоняет userIDs через матчмейкинг и возвращает id общего лобби.
func (f *fixture) fillLobby(t *testing.T, userIDs ...int) int {
	t.Helper()
	lobbyID := 0
	for _, uid := range userIDs {
		id, err := f.matchmaking.FindOrCreateLobby(context.Background(), uid)
		require.NoError(t, err)
		if lobbyID == 0 {
			lobbyID = id
		} else {
			require.Equal(t, lobbyID, id, "players must land in the same lobby")
		}
	}
	return lobbyID
}
