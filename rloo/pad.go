package rloo

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/rloo-trainer/rloo/collective"
)

// Number is the element type of a padded sequence field.
type Number interface {
	~int | ~int64 | ~float64
}

// Width returns the length of the longest row.
func Width[T Number](rows [][]T) int {
	w := 0
	for _, r := range rows {
		w = max(w, len(r))
	}
	return w
}

// PadRows right-pads every row to width with fill. Rows already at least
// width long are copied unchanged. The input is not modified.
func PadRows[T Number](rows [][]T, width int, fill T) [][]T {
	if rows == nil {
		return nil
	}
	out := make([][]T, len(rows))
	for i, r := range rows {
		row := make([]T, max(width, len(r)))
		copy(row, r)
		for j := len(r); j < len(row); j++ {
			row[j] = fill
		}
		out[i] = row
	}
	return out
}

// PadPair pads a and b on the sequence axis to the width of the wider of the
// two. Original values keep their positions; new positions hold fill.
// A nil side stays nil.
func PadPair[T Number](a, b [][]T, fill T) ([][]T, [][]T) {
	w := max(Width(a), Width(b))
	return PadRows(a, w, fill), PadRows(b, w, fill)
}

// PadToGlobal pads rows to a width agreed by every rank of g.
//
// The local widest row is all-reduced with Max on every call, so all ranks
// issue exactly one collective here regardless of their data. When target is
// positive the result is at least target wide; rows longer than target are
// never truncated and widen the agreed width for every rank instead.
func PadToGlobal[T Number](ctx context.Context, g collective.Group, rows [][]T, fill T, target int) ([][]T, error) {
	agreed, err := g.AllReduce(ctx, collective.OpMax, []float64{float64(Width(rows))})
	if err != nil {
		return nil, fmt.Errorf("agree on padded width: %w", err)
	}
	width := int(agreed[0])
	if target > 0 {
		if width > target {
			logrus.Warnf("global sequence width %d exceeds configured length %d; padding to %d", width, target, width)
		}
		width = max(width, target)
	}
	if rows == nil {
		rows = [][]T{}
	}
	return PadRows(rows, width, fill), nil
}

// cloneRows deep-copies a matrix.
func cloneRows[T Number](rows [][]T) [][]T {
	if rows == nil {
		return nil
	}
	out := make([][]T, len(rows))
	for i, r := range rows {
		out[i] = slices.Clone(r)
	}
	return out
}
