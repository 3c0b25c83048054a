// Package sim implements the deterministic Pong simulation for a single
// match. It performs no I/O and is driven one tick at a time by exactly one
// goroutine, so it needs no locking.
package sim

import "math/rand"

// Playfield constants. All positions are in pixels, speeds in pixels per tick.
const (
	Width  = 600
	Height = 400

	PaddleWidth  = 10
	PaddleHeight = 60
	PaddleSpeed  = 5

	BallSize  = 10
	BallSpeed = 2

	WinScore = 5
)

// Side identifies one of the two players. Side1 defends the left goal line,
// Side2 the right.
type Side uint8

const (
	SideNone Side = iota
	Side1
	Side2
)

func (s Side) String() string {
	switch s {
	case Side1:
		return "1"
	case Side2:
		return "2"
	default:
		return "none"
	}
}

// Opponent returns the other side.
func (s Side) Opponent() Side {
	switch s {
	case Side1:
		return Side2
	case Side2:
		return Side1
	default:
		return SideNone
	}
}

type Direction uint8

const (
	DirUp Direction = iota + 1
	DirDown
)

// State is a snapshot of the playfield. Paddle positions are the top edge of
// each paddle; the ball position is its top-left corner.
type State struct {
	Paddle1Y float64 `json:"paddle1"`
	Paddle2Y float64 `json:"paddle2"`
	BallX    float64 `json:"ball_x"`
	BallY    float64 `json:"ball_y"`
	BallVX   float64 `json:"ball_vx"`
	BallVY   float64 `json:"ball_vy"`
	Score1   int     `json:"score1"`
	Score2   int     `json:"score2"`
}

// Pong holds the evolving state of one match. The rand source only decides
// the ball direction after serves, so a seeded source makes a whole game
// reproducible.
type Pong struct {
	state State
	rng   *rand.Rand
}

func New(rng *rand.Rand) *Pong {
	p := &Pong{
		state: State{
			Paddle1Y: (Height - PaddleHeight) / 2,
			Paddle2Y: (Height - PaddleHeight) / 2,
		},
		rng: rng,
	}
	p.resetBall()
	return p
}

// Restore reconstructs a simulation from a snapshot, e.g. to resume play
// from a recorded state.
func Restore(s State, rng *rand.Rand) *Pong {
	return &Pong{state: s, rng: rng}
}

// Advance runs one simulation tick: ball movement, wall and paddle
// reflection, and goal detection. It reports which side scored this tick,
// if any.
func (p *Pong) Advance() (scorer Side, scored bool) {
	s := &p.state

	s.BallX += s.BallVX
	s.BallY += s.BallVY

	// Top and bottom walls reflect the vertical velocity.
	if s.BallY <= 0 {
		s.BallY = -s.BallY
		s.BallVY = -s.BallVY
	} else if s.BallY+BallSize >= Height {
		s.BallY = 2*(Height-BallSize) - s.BallY
		s.BallVY = -s.BallVY
	}

	// Paddle contact reflects the horizontal velocity and sets the vertical
	// velocity from the contact offset, so hitting with the paddle edge sends
	// the ball off at a steeper angle.
	if s.BallVX < 0 && s.BallX <= PaddleWidth && s.BallX+BallSize >= 0 &&
		overlapsVertically(s.BallY, s.Paddle1Y) {
		s.BallX = PaddleWidth
		s.BallVX = -s.BallVX
		s.BallVY = contactDeflection(s.BallY, s.Paddle1Y)
	} else if s.BallVX > 0 && s.BallX+BallSize >= Width-PaddleWidth && s.BallX <= Width &&
		overlapsVertically(s.BallY, s.Paddle2Y) {
		s.BallX = Width - PaddleWidth - BallSize
		s.BallVX = -s.BallVX
		s.BallVY = contactDeflection(s.BallY, s.Paddle2Y)
	}

	// A goal requires the ball to be fully past the goal line.
	if s.BallX+BallSize < 0 {
		s.Score2++
		p.resetBall()
		return Side2, true
	}
	if s.BallX > Width {
		s.Score1++
		p.resetBall()
		return Side1, true
	}
	return SideNone, false
}

// MovePaddle shifts a paddle one step up or down, clamped to the playfield.
func (p *Pong) MovePaddle(side Side, dir Direction) {
	var y *float64
	switch side {
	case Side1:
		y = &p.state.Paddle1Y
	case Side2:
		y = &p.state.Paddle2Y
	default:
		return
	}
	switch dir {
	case DirUp:
		*y -= PaddleSpeed
	case DirDown:
		*y += PaddleSpeed
	}
	if *y < 0 {
		*y = 0
	} else if *y > Height-PaddleHeight {
		*y = Height - PaddleHeight
	}
}

func (p *Pong) Finished() bool {
	return p.state.Score1 >= WinScore || p.state.Score2 >= WinScore
}

// Winner returns the side with the higher score. Only meaningful once
// Finished reports true.
func (p *Pong) Winner() Side {
	if p.state.Score1 >= p.state.Score2 {
		return Side1
	}
	return Side2
}

func (p *Pong) Snapshot() State {
	return p.state
}

func (p *Pong) resetBall() {
	s := &p.state
	s.BallX = Width/2 - BallSize/2
	s.BallY = Height/2 - BallSize/2
	s.BallVX = diagonal(p.rng)
	s.BallVY = diagonal(p.rng)
}

// diagonal picks ±BallSpeed with equal probability.
func diagonal(rng *rand.Rand) float64 {
	if rng.Intn(2) == 0 {
		return BallSpeed
	}
	return -BallSpeed
}

func overlapsVertically(ballY, paddleY float64) bool {
	return ballY+BallSize >= paddleY && ballY <= paddleY+PaddleHeight
}

// contactDeflection maps the contact point to a vertical velocity in
// [-BallSpeed, BallSpeed]: center hits go straight, edge hits deflect fully.
func contactDeflection(ballY, paddleY float64) float64 {
	ballCenter := ballY + BallSize/2
	paddleCenter := paddleY + PaddleHeight/2
	offset := (ballCenter - paddleCenter) / (PaddleHeight / 2)
	if offset > 1 {
		offset = 1
	} else if offset < -1 {
		offset = -1
	}
	return offset * BallSpeed
}
