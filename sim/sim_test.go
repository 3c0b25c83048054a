package sim

import (
	"math/rand"
	"testing"

	"gotest.tools/v3/assert"
)

func newTestPong(seed int64) *Pong {
	return New(rand.New(rand.NewSource(seed)))
}

func TestNewCentersEverything(t *testing.T) {
	p := newTestPong(1)
	s := p.Snapshot()

	assert.Equal(t, float64((Height-PaddleHeight)/2), s.Paddle1Y)
	assert.Equal(t, float64((Height-PaddleHeight)/2), s.Paddle2Y)
	assert.Equal(t, float64(Width/2-BallSize/2), s.BallX)
	assert.Equal(t, float64(Height/2-BallSize/2), s.BallY)
	assert.Check(t, s.BallVX == BallSpeed || s.BallVX == -BallSpeed)
	assert.Check(t, s.BallVY == BallSpeed || s.BallVY == -BallSpeed)
}

func TestPaddleNeverLeavesPlayfield(t *testing.T) {
	p := newTestPong(1)
	for i := 0; i < 200; i++ {
		p.MovePaddle(Side1, DirUp)
		p.MovePaddle(Side2, DirDown)
	}
	assert.Equal(t, float64(0), p.Snapshot().Paddle1Y)
	assert.Equal(t, float64(Height-PaddleHeight), p.Snapshot().Paddle2Y)

	for i := 0; i < 200; i++ {
		p.MovePaddle(Side1, DirDown)
		p.MovePaddle(Side2, DirUp)
	}
	assert.Equal(t, float64(Height-PaddleHeight), p.Snapshot().Paddle1Y)
	assert.Equal(t, float64(0), p.Snapshot().Paddle2Y)
}

func TestWallContactReflectsVerticalVelocity(t *testing.T) {
	p := newTestPong(1)
	p.state.BallX = Width / 2
	p.state.BallY = 1
	p.state.BallVX = BallSpeed
	p.state.BallVY = -BallSpeed

	_, scored := p.Advance()
	assert.Check(t, !scored)
	assert.Equal(t, float64(BallSpeed), p.state.BallVY)
	assert.Check(t, p.state.BallY >= 0)
}

func TestPaddleContactReflectsAndDeflects(t *testing.T) {
	p := newTestPong(1)
	// Ball about to land dead center on paddle 1: straight reflection.
	p.state.Paddle1Y = 170
	p.state.BallY = 195
	p.state.BallX = PaddleWidth + 1
	p.state.BallVX = -BallSpeed
	p.state.BallVY = 0

	_, scored := p.Advance()
	assert.Check(t, !scored)
	assert.Equal(t, float64(BallSpeed), p.state.BallVX)
	assert.Equal(t, float64(0), p.state.BallVY)
	assert.Equal(t, float64(PaddleWidth), p.state.BallX)

	// Bottom-edge contact on paddle 2 deflects downward at full speed.
	p.state.Paddle2Y = 170
	p.state.BallY = 225
	p.state.BallX = Width - PaddleWidth - BallSize - 1
	p.state.BallVX = BallSpeed
	p.state.BallVY = 0

	_, scored = p.Advance()
	assert.Check(t, !scored)
	assert.Equal(t, float64(-BallSpeed), p.state.BallVX)
	assert.Equal(t, float64(BallSpeed), p.state.BallVY)
}

func TestGoalRequiresBallFullyPastGoalLine(t *testing.T) {
	p := newTestPong(1)
	// Park the paddle away from the ball's path.
	p.state.Paddle1Y = 300
	p.state.BallY = 50
	p.state.BallVY = 0
	p.state.BallVX = -BallSpeed

	// Edge touching the goal line from inside: not a goal yet.
	p.state.BallX = -BallSize + BallSpeed
	side, scored := p.Advance()
	assert.Check(t, !scored)
	assert.Equal(t, SideNone, side)

	side, scored = p.Advance()
	assert.Check(t, scored)
	assert.Equal(t, Side2, side)
	assert.Equal(t, 1, p.state.Score2)

	// Scoring resets the ball to the exact center with a diagonal serve.
	s := p.Snapshot()
	assert.Equal(t, float64(Width/2-BallSize/2), s.BallX)
	assert.Equal(t, float64(Height/2-BallSize/2), s.BallY)
	assert.Check(t, s.BallVX == BallSpeed || s.BallVX == -BallSpeed)
	assert.Check(t, s.BallVY == BallSpeed || s.BallVY == -BallSpeed)
}

func TestScoreSumIncreasesByExactlyOnePerGoal(t *testing.T) {
	p := newTestPong(42)
	// Keep both paddles parked out of the way so every rally ends in a goal.
	p.state.Paddle1Y = 0
	p.state.Paddle2Y = 0
	p.state.BallY = 300
	p.state.BallVY = 0

	prevSum := 0
	goals := 0
	for i := 0; i < 100_000 && !p.Finished(); i++ {
		_, scored := p.Advance()
		sum := p.state.Score1 + p.state.Score2
		if scored {
			assert.Equal(t, prevSum+1, sum)
			goals++
			// Re-park the serve so the ball never meets a paddle.
			p.state.BallY = 300
			p.state.BallVY = 0
		} else {
			assert.Equal(t, prevSum, sum)
		}
		prevSum = sum
	}
	assert.Check(t, p.Finished(), "game should finish once a side reaches %d", WinScore)
	assert.Equal(t, goals, p.state.Score1+p.state.Score2)
}

func TestWinnerIsHigherScore(t *testing.T) {
	p := newTestPong(1)
	p.state.Score1 = WinScore
	p.state.Score2 = 3
	assert.Check(t, p.Finished())
	assert.Equal(t, Side1, p.Winner())

	p.state.Score1 = 2
	p.state.Score2 = WinScore
	assert.Equal(t, Side2, p.Winner())
}

func TestSeededGamesAreReproducible(t *testing.T) {
	a := newTestPong(7)
	b := newTestPong(7)
	for i := 0; i < 5_000; i++ {
		sideA, scoredA := a.Advance()
		sideB, scoredB := b.Advance()
		assert.Equal(t, scoredA, scoredB)
		assert.Equal(t, sideA, sideB)
	}
	assert.Equal(t, a.Snapshot(), b.Snapshot())
}
