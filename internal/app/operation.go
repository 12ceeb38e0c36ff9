package app

import "strings"

// Operation tracks one CLI invocation that may mutate the metadata database.
// It lives in memory with ID=0 until a mutating command persists it; the
// database then assigns the ID, which also versions the vault snapshot.
type Operation struct {
	ID         int64
	Name       string
	Parameters string
	Status     string // "success" or "error"
}

// NewOperation creates an in-memory operation. args are recorded space-separated.
func NewOperation(name string, args ...string) *Operation {
	return &Operation{
		Name:       name,
		Parameters: strings.Join(args, " "),
		Status:     "success",
	}
}

// Persisted reports whether the operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed. A nil err leaves it unchanged.
func (op *Operation) Fail(err error) {
	if err != nil {
		op.Status = "error"
	}
}
