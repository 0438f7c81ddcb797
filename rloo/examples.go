package rloo

// ExampleRow is one line of a logged example table.
type ExampleRow struct {
	Step int
	RolloutExample
}

// ExampleTable keeps the most recent rows of an example table.
type ExampleTable struct {
	rows []ExampleRow
	next int
	full bool
}

// NewExampleTable creates a table holding at most capacity rows.
// Panics if capacity < 1.
func NewExampleTable(capacity int) *ExampleTable {
	if capacity < 1 {
		panic("NewExampleTable: capacity must be >= 1")
	}
	return &ExampleTable{rows: make([]ExampleRow, capacity)}
}

// Append adds a row, evicting the oldest one when the table is full.
func (t *ExampleTable) Append(row ExampleRow) {
	t.rows[t.next] = row
	t.next = (t.next + 1) % len(t.rows)
	if t.next == 0 {
		t.full = true
	}
}

// Len returns the number of rows held.
func (t *ExampleTable) Len() int {
	if t.full {
		return len(t.rows)
	}
	return t.next
}

// Rows returns a copy of the held rows, oldest first.
func (t *ExampleTable) Rows() []ExampleRow {
	if !t.full {
		return append([]ExampleRow(nil), t.rows[:t.next]...)
	}
	out := make([]ExampleRow, 0, len(t.rows))
	out = append(out, t.rows[t.next:]...)
	return append(out, t.rows[:t.next]...)
}
