// Package redis implements the storage.Store interface on top of a redis
// instance. Rows are hashes under namespaced keys, score events are a list
// per match, and ids come from INCR sequences.
package redis

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/arenalabs/rally/storage"
)

const dialTimeout = 15 * time.Second

type Options = redis.Options

// Storage is the redis-backed Store. All keys are prefixed with the
// process namespace so several deployments can share one instance.
type Storage struct {
	namespace string
	client    *redis.Client
	log       zerolog.Logger
}

var _ storage.Store = (*Storage)(nil)

func NewStorage(options Options, namespace string) *Storage {
	options.DialTimeout = dialTimeout
	client := redis.NewClient(&options)
	return &Storage{
		namespace: namespace,
		client:    client,
		log:       zerolog.New(os.Stdout).With().Timestamp().Str("component", "storage").Logger(),
	}
}

// NewStorageWithClient wraps an existing client; used by tests running
// against miniredis.
func NewStorageWithClient(client *redis.Client, namespace string) *Storage {
	return &Storage{
		namespace: namespace,
		client:    client,
		log:       zerolog.New(os.Stdout).With().Timestamp().Str("component", "storage").Logger(),
	}
}

func (s *Storage) NextMatchID(ctx context.Context) (int64, error) {
	id, err := s.client.Incr(ctx, s.key("seq", "match")).Result()
	if err != nil {
		return 0, eris.Wrap(err, "failed to allocate match id")
	}
	return id, nil
}

func (s *Storage) NextTournamentID(ctx context.Context) (int64, error) {
	id, err := s.client.Incr(ctx, s.key("seq", "tournament")).Result()
	if err != nil {
		return 0, eris.Wrap(err, "failed to allocate tournament id")
	}
	return id, nil
}

func (s *Storage) CreateMatch(ctx context.Context, m storage.Match) error {
	key := s.key("match", strconv.FormatInt(m.ID, 10))
	err := s.client.HSet(ctx, key,
		"tournament_id", m.TournamentID,
		"round", m.Round,
		"player1", m.Player1,
		"player2", m.Player2,
		"status", string(m.Status),
	).Err()
	if err != nil {
		return eris.Wrapf(err, "failed to create match %d", m.ID)
	}
	return nil
}

func (s *Storage) UpdateMatchStatus(ctx context.Context, matchID int64, status storage.Status) error {
	key := s.key("match", strconv.FormatInt(matchID, 10))
	if err := s.client.HSet(ctx, key, "status", string(status)).Err(); err != nil {
		return eris.Wrapf(err, "failed to update status of match %d", matchID)
	}
	return nil
}

func (s *Storage) CreateScoreEvent(ctx context.Context, ev storage.ScoreEvent) error {
	key := s.key("match", strconv.FormatInt(ev.MatchID, 10), "events")
	entry := fmt.Sprintf("%s:%d:%d", ev.Scorer, ev.Score1, ev.Score2)
	if err := s.client.RPush(ctx, key, entry).Err(); err != nil {
		return eris.Wrapf(err, "failed to record score event for match %d", ev.MatchID)
	}
	return nil
}

func (s *Storage) CreateTournament(ctx context.Context, t storage.Tournament) error {
	key := s.key("tournament", strconv.FormatInt(t.ID, 10))
	err := s.client.HSet(ctx, key,
		"name", t.Name,
		"status", string(t.Status),
	).Err()
	if err != nil {
		return eris.Wrapf(err, "failed to create tournament %d", t.ID)
	}
	return nil
}

func (s *Storage) UpdateTournamentStatus(ctx context.Context, tournamentID int64, status storage.Status) error {
	key := s.key("tournament", strconv.FormatInt(tournamentID, 10))
	if err := s.client.HSet(ctx, key, "status", string(status)).Err(); err != nil {
		return eris.Wrapf(err, "failed to update status of tournament %d", tournamentID)
	}
	return nil
}

func (s *Storage) CreateRound(ctx context.Context, tournamentID int64, round int) error {
	key := s.roundKey(tournamentID, round)
	if err := s.client.HSet(ctx, key, "status", string(storage.StatusRunning)).Err(); err != nil {
		return eris.Wrapf(err, "failed to create round %d of tournament %d", round, tournamentID)
	}
	return nil
}

func (s *Storage) UpdateRoundStatus(ctx context.Context, tournamentID int64, round int, status storage.Status) error {
	key := s.roundKey(tournamentID, round)
	if err := s.client.HSet(ctx, key, "status", string(status)).Err(); err != nil {
		return eris.Wrapf(err, "failed to update status of round %d of tournament %d", round, tournamentID)
	}
	return nil
}

func (s *Storage) UpdateParticipationRanking(
	ctx context.Context, tournamentID int64, participant string, rank int,
) error {
	key := s.key("tournament", strconv.FormatInt(tournamentID, 10), "rankings")
	if err := s.client.HSet(ctx, key, participant, rank).Err(); err != nil {
		return eris.Wrapf(err, "failed to record ranking of %q in tournament %d", participant, tournamentID)
	}
	return nil
}

func (s *Storage) UpdateParticipationWin(ctx context.Context, matchID int64, participant string, won bool) error {
	key := s.key("match", strconv.FormatInt(matchID, 10), "results")
	if err := s.client.HSet(ctx, key, participant, strconv.FormatBool(won)).Err(); err != nil {
		return eris.Wrapf(err, "failed to record result of %q in match %d", participant, matchID)
	}
	return nil
}

func (s *Storage) Close() error {
	s.log.Info().Msg("closing storage connection")
	if err := s.client.Close(); err != nil {
		return eris.Wrap(err, "failed to close redis client")
	}
	return nil
}

func (s *Storage) key(parts ...string) string {
	key := s.namespace
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func (s *Storage) roundKey(tournamentID int64, round int) string {
	return s.key("tournament", strconv.FormatInt(tournamentID, 10), "round", strconv.Itoa(round))
}
