// Package storage defines the Data Store boundary of the game core. The core
// treats persistence as an external collaborator: every call is best-effort,
// context-bound, and non-transactional. Gameplay never blocks on it.
package storage

import "context"

// Status is the lifecycle tag persisted for matches, rounds, and
// tournaments.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Match is the persisted record of one match.
type Match struct {
	ID           int64
	TournamentID int64 // 0 for ad-hoc matches
	Round        int   // 0 for ad-hoc matches
	Player1      string
	Player2      string
	Status       Status
}

// Tournament is the persisted record of one bracket.
type Tournament struct {
	ID     int64
	Name   string
	Status Status
}

// ScoreEvent records a single goal inside a match.
type ScoreEvent struct {
	MatchID int64
	Scorer  string // "1" or "2"
	Score1  int
	Score2  int
}

// Store is the persistence surface consumed by coordinators and
// orchestrators. Implementations must be safe for concurrent use; callers
// never hold registry mutexes across these calls.
type Store interface {
	NextMatchID(ctx context.Context) (int64, error)
	NextTournamentID(ctx context.Context) (int64, error)

	CreateMatch(ctx context.Context, m Match) error
	UpdateMatchStatus(ctx context.Context, matchID int64, status Status) error
	CreateScoreEvent(ctx context.Context, ev ScoreEvent) error

	CreateTournament(ctx context.Context, t Tournament) error
	UpdateTournamentStatus(ctx context.Context, tournamentID int64, status Status) error
	CreateRound(ctx context.Context, tournamentID int64, round int) error
	UpdateRoundStatus(ctx context.Context, tournamentID int64, round int, status Status) error

	// UpdateParticipationRanking records the final rank of one entrant in a
	// tournament; both semifinal losers legitimately share a rank.
	UpdateParticipationRanking(ctx context.Context, tournamentID int64, participant string, rank int) error
	// UpdateParticipationWin records the outcome of one match for one
	// participant.
	UpdateParticipationWin(ctx context.Context, matchID int64, participant string, won bool) error

	Close() error
}
