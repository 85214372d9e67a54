package services

import "errors"

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	// Ресурс не найден (универсальная)
	ErrNotFound = errors.New("requested resource not found")

	// Ошибки аутентификации
	ErrNotAuthenticated       = errors.New("caller identity unavailable")
	ErrAuthInvalidCredentials = errors.New("invalid email or password")
	ErrAuthEmailTaken         = errors.New("email is already taken")
	ErrPasswordTooShort       = errors.New("password is too short")

	// Ошибки протокола матчмейкинга.
	//
	// ErrPreconditionFailed: a state assumption (lobby status, player count)
	// no longer holds at the moment of a state-changing call. The caller
	// should re-read and re-decide, never blindly retry the same call.
	ErrPreconditionFailed = errors.New("lobby state precondition failed")

	// ErrInvalidLobbyState: mark-ready called outside an active ready-check
	// or against a lobby that is not at capacity.
	ErrInvalidLobbyState = errors.New("lobby is not in a valid state for this operation")

	// ErrMaterializationFailed: tournament creation could not complete after
	// bounded retries. The lobby is left waiting with readiness intact so a
	// fresh coordinator pass can retry from the top.
	ErrMaterializationFailed = errors.New("tournament materialization failed")

	// ErrInsufficientPlayers: the countdown expired or a leave dropped the
	// lobby below capacity; the lobby was cancelled and its remaining
	// participants evicted.
	ErrInsufficientPlayers = errors.New("not enough players to continue")

	ErrNotInLobby = errors.New("user is not a member of this lobby")

	// Ошибки, специфичные для сущностей
	ErrUserNotFound       = errors.New("user not found")
	ErrLobbyNotFound      = errors.New("lobby not found")
	ErrTournamentNotFound = errors.New("tournament not found")
	ErrMatchNotFound      = errors.New("match not found")

	// Ошибки результатов матчей
	ErrMatchAlreadyCompleted = errors.New("match result has already been recorded")
	ErrInvalidMatchResult    = errors.New("match result is invalid")
	ErrScreenshotTooLarge    = errors.New("screenshot exceeds the size limit")
	ErrUnsupportedImageType  = errors.New("screenshot content type is not supported")
)
