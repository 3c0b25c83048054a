// Package testutils provides in-memory stand-ins for the messaging bus and
// the data store so the game core can be exercised without sockets or redis.
package testutils

import (
	"context"
	"strings"
	"sync"

	"github.com/arenalabs/rally/storage"
)

// Frame is one message captured by the FakeBus.
type Frame struct {
	Group  string // empty for direct sends
	ConnID string // empty for group sends
	Raw    []byte
}

// FakeBus records group membership and every frame sent through it.
type FakeBus struct {
	mu     sync.Mutex
	groups map[string]map[string]struct{}
	frames []Frame
}

func NewFakeBus() *FakeBus {
	return &FakeBus{groups: make(map[string]map[string]struct{})}
}

func (b *FakeBus) AddToGroup(group, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.groups[group]
	if !ok {
		members = make(map[string]struct{})
		b.groups[group] = members
	}
	members[connID] = struct{}{}
}

func (b *FakeBus) RemoveFromGroup(group, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if members, ok := b.groups[group]; ok {
		delete(members, connID)
	}
}

// ReleaseGroup disbands the whole group at once.
func (b *FakeBus) ReleaseGroup(group string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.groups, group)
}

func (b *FakeBus) SendToGroup(group string, msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, Frame{Group: group, Raw: msg})
}

func (b *FakeBus) SendToConnection(connID string, msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, Frame{ConnID: connID, Raw: msg})
}

// InGroup reports whether connID is currently a member of group.
func (b *FakeBus) InGroup(group, connID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.groups[group][connID]
	return ok
}

// Frames returns a copy of everything sent so far.
func (b *FakeBus) Frames() []Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Frame, len(b.frames))
	copy(out, b.frames)
	return out
}

// FramesToGroup returns the frames broadcast to one group, in send order.
func (b *FakeBus) FramesToGroup(group string) []Frame {
	var out []Frame
	for _, f := range b.Frames() {
		if f.Group == group {
			out = append(out, f)
		}
	}
	return out
}

// FramesToConnection returns the direct frames sent to one connection.
func (b *FakeBus) FramesToConnection(connID string) []Frame {
	var out []Frame
	for _, f := range b.Frames() {
		if f.ConnID == connID {
			out = append(out, f)
		}
	}
	return out
}

// ContainsFrame reports whether any captured frame contains the substring.
func (b *FakeBus) ContainsFrame(substring string) bool {
	for _, f := range b.Frames() {
		if strings.Contains(string(f.Raw), substring) {
			return true
		}
	}
	return false
}

// FakeStore is an in-memory storage.Store that records every call and can be
// scripted to fail specific operations.
type FakeStore struct {
	mu            sync.Mutex
	calls         []string
	matchSeq      int64
	tournamentSeq int64
	failures      map[string]error
	rankings      map[string]int
}

var _ storage.Store = (*FakeStore)(nil)

func NewFakeStore() *FakeStore {
	return &FakeStore{failures: make(map[string]error)}
}

// FailOn makes every future call of the named operation (e.g. "CreateRound")
// return err.
func (s *FakeStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// Calls returns the operation names invoked so far, in order.
func (s *FakeStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times the named operation ran.
func (s *FakeStore) CallCount(op string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

func (s *FakeStore) record(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, op)
	return s.failures[op]
}

func (s *FakeStore) NextMatchID(context.Context) (int64, error) {
	if err := s.record("NextMatchID"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchSeq++
	return s.matchSeq, nil
}

func (s *FakeStore) NextTournamentID(context.Context) (int64, error) {
	if err := s.record("NextTournamentID"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tournamentSeq++
	return s.tournamentSeq, nil
}

func (s *FakeStore) CreateMatch(_ context.Context, _ storage.Match) error {
	return s.record("CreateMatch")
}

func (s *FakeStore) UpdateMatchStatus(_ context.Context, _ int64, _ storage.Status) error {
	return s.record("UpdateMatchStatus")
}

func (s *FakeStore) CreateScoreEvent(_ context.Context, _ storage.ScoreEvent) error {
	return s.record("CreateScoreEvent")
}

func (s *FakeStore) CreateTournament(_ context.Context, _ storage.Tournament) error {
	return s.record("CreateTournament")
}

func (s *FakeStore) UpdateTournamentStatus(_ context.Context, _ int64, _ storage.Status) error {
	return s.record("UpdateTournamentStatus")
}

func (s *FakeStore) CreateRound(_ context.Context, _ int64, _ int) error {
	return s.record("CreateRound")
}

func (s *FakeStore) UpdateRoundStatus(_ context.Context, _ int64, _ int, _ storage.Status) error {
	return s.record("UpdateRoundStatus")
}

func (s *FakeStore) UpdateParticipationRanking(_ context.Context, _ int64, participant string, rank int) error {
	s.mu.Lock()
	if s.rankings == nil {
		s.rankings = make(map[string]int)
	}
	s.rankings[participant] = rank
	s.mu.Unlock()
	return s.record("UpdateParticipationRanking")
}

func (s *FakeStore) UpdateParticipationWin(_ context.Context, _ int64, _ string, _ bool) error {
	return s.record("UpdateParticipationWin")
}

func (s *FakeStore) Close() error {
	return s.record("Close")
}

// Ranking returns the recorded final rank for a participant, or 0.
func (s *FakeStore) Ranking(participant string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rankings[participant]
}
