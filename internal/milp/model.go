package milp

import "math"

// VarKind classifies a model column.
type VarKind int

const (
	VarAllocation VarKind = iota // x[i][j], tons routed from transporter i to site j
	VarIndicator                 // y[i][j], binary participation indicator
	VarTonnageDev                // u[i], absolute tonnage deviation
	VarRevenueDev                // v[i], absolute revenue deviation
)

// Variable describes one column of the model.
type Variable struct {
	Name        string
	Kind        VarKind
	Transporter int // always set
	Site        int // -1 for deviation variables
	Integer     bool
	Lower       float64
	Upper       float64 // math.Inf(1) when unbounded above
}

// Nonzero is one coefficient of the sparse constraint matrix.
type Nonzero struct {
	Row int
	Col int
	Val float64
}

// Model is the complete MILP: columns, sparse constraint rows, and a
// minimization objective. It is immutable once built and consumed exactly once
// per solver call. Row semantics: RowLower <= A x <= RowUpper, with an
// equality when the two bounds coincide.
type Model struct {
	Dataset *Dataset

	Vars     []Variable
	ColCost  []float64
	RowLower []float64
	RowUpper []float64
	Coeffs   []Nonzero
	RowNames []string

	// Epsilon is the numeric tolerance applied by Extract and honored by
	// adapters for integrality. Build sets it to DefaultEpsilon.
	Epsilon float64
}

// NumVars returns the number of columns.
func (m *Model) NumVars() int { return len(m.Vars) }

// NumRows returns the number of constraint rows.
func (m *Model) NumRows() int { return len(m.RowLower) }

// XIndex returns the column of x[i][j].
func (m *Model) XIndex(i, j int) int { return i*m.Dataset.NumSites() + j }

// YIndex returns the column of y[i][j].
func (m *Model) YIndex(i, j int) int {
	n, s := m.Dataset.NumTransporters(), m.Dataset.NumSites()
	return n*s + i*s + j
}

// UIndex returns the column of u[i].
func (m *Model) UIndex(i int) int {
	n, s := m.Dataset.NumTransporters(), m.Dataset.NumSites()
	return 2*n*s + i
}

// VIndex returns the column of v[i].
func (m *Model) VIndex(i int) int {
	n, s := m.Dataset.NumTransporters(), m.Dataset.NumSites()
	return 2*n*s + n + i
}

func (m *Model) addSparseRow(name string, lower float64, cols []int, vals []float64, upper float64) {
	row := len(m.RowLower)
	m.RowLower = append(m.RowLower, lower)
	m.RowUpper = append(m.RowUpper, upper)
	m.RowNames = append(m.RowNames, name)
	for k, col := range cols {
		if vals[k] != 0 {
			m.Coeffs = append(m.Coeffs, Nonzero{Row: row, Col: col, Val: vals[k]})
		}
	}
}

func (m *Model) addEqRow(name string, cols []int, vals []float64, rhs float64) {
	m.addSparseRow(name, rhs, cols, vals, rhs)
}

func (m *Model) addLeRow(name string, cols []int, vals []float64, rhs float64) {
	m.addSparseRow(name, math.Inf(-1), cols, vals, rhs)
}

func (m *Model) addGeRow(name string, cols []int, vals []float64, rhs float64) {
	m.addSparseRow(name, rhs, cols, vals, math.Inf(1))
}
