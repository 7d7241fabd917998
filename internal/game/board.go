// Package game holds the board rules and the per-game state machine.
package game

import (
	"github.com/spyderonmode/TicTacMaster-sub002/internal/models"
)

const (
	Rows  = 3
	Cols  = 5
	Cells = Rows * Cols
)

const (
	ConditionHorizontal  = "horizontal"
	ConditionDiagonal    = "diagonal"
	ConditionDraw        = "draw"
	ConditionAbandonment = "abandonment"
	ConditionTimeout     = "timeout"
)

// Line is a winning run of 1-based positions.
type Line struct {
	Cells     []int
	Condition string
}

// Lines enumerates every winning line: four in a row along a row, or three
// along a diagonal spanning all rows. Columns never win.
var Lines = buildLines()

func pos(row, col int) int {
	return row*Cols + col + 1
}

func buildLines() []Line {
	var lines []Line
	for r := 0; r < Rows; r++ {
		for c := 0; c+3 < Cols; c++ {
			lines = append(lines, Line{
				Cells:     []int{pos(r, c), pos(r, c+1), pos(r, c+2), pos(r, c+3)},
				Condition: ConditionHorizontal,
			})
		}
	}
	for c := 0; c+Rows-1 < Cols; c++ {
		lines = append(lines, Line{
			Cells:     []int{pos(0, c), pos(1, c+1), pos(2, c+2)},
			Condition: ConditionDiagonal,
		})
	}
	for c := Rows - 1; c < Cols; c++ {
		lines = append(lines, Line{
			Cells:     []int{pos(0, c), pos(1, c-1), pos(2, c-2)},
			Condition: ConditionDiagonal,
		})
	}
	return lines
}

func ValidPosition(p int) bool {
	return p >= 1 && p <= Cells
}

// Evaluate returns the first completed line and its owner, or ok=false.
func Evaluate(b models.Board) (models.Symbol, Line, bool) {
	for _, line := range Lines {
		first := b[line.Cells[0]]
		if first == "" {
			continue
		}
		won := true
		for _, c := range line.Cells[1:] {
			if b[c] != first {
				won = false
				break
			}
		}
		if won {
			return first, line, true
		}
	}
	return "", Line{}, false
}

func Full(b models.Board) bool {
	return len(b) >= Cells
}

// centrality ranks free cells for the fallback auto move: middle row and middle column first.
func centrality(p int) int {
	r, c := (p-1)/Cols, (p-1)%Cols
	dr, dc := r-Rows/2, c-Cols/2
	if dr < 0 {
		dr = -dr
	}
	if dc < 0 {
		dc = -dc
	}
	return dr*2 + dc
}

func completes(b models.Board, p int, sym models.Symbol) bool {
	b[p] = sym
	winner, _, ok := Evaluate(b)
	delete(b, p)
	return ok && winner == sym
}

// PickAutoMove chooses a cell for sym: a winning cell, else one that blocks the
// opponent, else the most central free cell. It returns 0 on a full board.
func PickAutoMove(b models.Board, sym models.Symbol) int {
	scratch := b.Clone()
	var free []int
	for p := 1; p <= Cells; p++ {
		if _, taken := scratch[p]; !taken {
			free = append(free, p)
		}
	}
	if len(free) == 0 {
		return 0
	}

	for _, p := range free {
		if completes(scratch, p, sym) {
			return p
		}
	}
	for _, p := range free {
		if completes(scratch, p, sym.Opponent()) {
			return p
		}
	}

	best := free[0]
	for _, p := range free[1:] {
		if centrality(p) < centrality(best) {
			best = p
		}
	}
	return best
}
