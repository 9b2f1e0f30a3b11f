package solver

import (
	"fmt"

	"cargoalloc/internal/milp"
)

// New returns the named solver backend. An empty name selects the default
// pure-Go branch and bound.
func New(name string) (milp.SolverAdapter, error) {
	switch name {
	case "", "bnb":
		return NewBranchBound(), nil
	case "cbc":
		return NewCBC(), nil
	}
	return nil, fmt.Errorf("unknown solver %q (known: bnb, cbc)", name)
}
