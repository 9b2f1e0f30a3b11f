package solver

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"cargoalloc/internal/milp"
)

// CBC is a SolverAdapter that writes the model in CPLEX LP format and shells
// out to a COIN-OR CBC binary, the same solver the allocation model was
// originally run against. The binary must be on PATH or named via Path.
type CBC struct {
	Path string
}

func NewCBC() *CBC {
	path := os.Getenv("CBC_PATH")
	if path == "" {
		path = "cbc"
	}
	return &CBC{Path: path}
}

// Solve implements milp.SolverAdapter.
func (s *CBC) Solve(ctx context.Context, m *milp.Model, opts milp.Options) (*milp.RawSolution, error) {
	dir, err := os.MkdirTemp("", "cargoalloc-cbc-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	lpPath := filepath.Join(dir, "model.lp")
	solPath := filepath.Join(dir, "model.sol")
	if err := writeLPFile(lpPath, m); err != nil {
		return nil, err
	}

	args := []string{lpPath}
	if opts.TimeLimit > 0 {
		args = append(args, "sec", strconv.Itoa(int(math.Ceil(opts.TimeLimit.Seconds()))))
	}
	if !opts.Verbose {
		args = append(args, "log", "0")
	}
	args = append(args, "branch", "printingOptions", "all", "solution", solPath)

	cmd := exec.CommandContext(ctx, s.Path, args...)
	if opts.Verbose {
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Run(); err != nil {
		// CBC exits nonzero on some stop conditions; only a missing or
		// broken binary is fatal before the solution file is consulted.
		if _, statErr := os.Stat(solPath); statErr != nil {
			return nil, fmt.Errorf("cbc run failed: %w", err)
		}
	}

	return parseCBCSolution(solPath, m, opts)
}

// writeLPFile renders the model in CPLEX LP format. Variable and row names
// come straight from the model, so the solution file maps back by name.
func writeLPFile(path string, m *milp.Model) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	w := bufio.NewWriter(f)

	fmt.Fprintln(w, "\\ cargoalloc allocation model")
	fmt.Fprintln(w, "Minimize")
	fmt.Fprint(w, " obj:")
	wrote := false
	for k, c := range m.ColCost {
		if c == 0 {
			continue
		}
		fmt.Fprintf(w, " %s%g %s", plus(wrote, c), math.Abs(c), m.Vars[k].Name)
		wrote = true
	}
	if !wrote {
		fmt.Fprintf(w, " 0 %s", m.Vars[0].Name)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Subject To")
	rowCoeffs := make([][]milp.Nonzero, m.NumRows())
	for _, nz := range m.Coeffs {
		rowCoeffs[nz.Row] = append(rowCoeffs[nz.Row], nz)
	}
	for r := 0; r < m.NumRows(); r++ {
		fmt.Fprintf(w, " %s:", m.RowNames[r])
		wrote = false
		for _, nz := range rowCoeffs[r] {
			fmt.Fprintf(w, " %s%g %s", plus(wrote, nz.Val), math.Abs(nz.Val), m.Vars[nz.Col].Name)
			wrote = true
		}
		switch {
		case m.RowLower[r] == m.RowUpper[r]:
			fmt.Fprintf(w, " = %g\n", m.RowUpper[r])
		case math.IsInf(m.RowLower[r], -1):
			fmt.Fprintf(w, " <= %g\n", m.RowUpper[r])
		default:
			fmt.Fprintf(w, " >= %g\n", m.RowLower[r])
		}
	}

	fmt.Fprintln(w, "Bounds")
	for _, v := range m.Vars {
		if v.Integer {
			continue // binaries are bounded by their section
		}
		if !math.IsInf(v.Upper, 1) {
			fmt.Fprintf(w, " %s <= %g\n", v.Name, v.Upper)
		}
	}

	fmt.Fprintln(w, "Binaries")
	for _, v := range m.Vars {
		if v.Integer {
			fmt.Fprintf(w, " %s\n", v.Name)
		}
	}
	fmt.Fprintln(w, "End")
	return w.Flush()
}

func plus(wrote bool, val float64) string {
	if val < 0 {
		return "- "
	}
	if wrote {
		return "+ "
	}
	return ""
}

// parseCBCSolution reads CBC's solution file: a status line such as
// "Optimal - objective value 0.02", then one line per nonzero (or, with
// printingOptions all, per column): index, name, value, reduced cost.
func parseCBCSolution(path string, m *milp.Model, opts milp.Options) (*milp.RawSolution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cbc produced no solution file: %w", err)
	}
	defer func() { _ = f.Close() }()

	colByName := make(map[string]int, m.NumVars())
	for k, v := range m.Vars {
		colByName[v.Name] = k
	}

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, fmt.Errorf("cbc solution file is empty")
	}
	statusLine := strings.TrimSpace(sc.Text())

	status := milp.StatusOptimal
	switch {
	case strings.HasPrefix(statusLine, "Optimal"):
		status = milp.StatusOptimal
	case strings.Contains(strings.ToLower(statusLine), "infeasible"):
		return nil, &milp.InfeasibleError{Detail: statusLine}
	case strings.HasPrefix(statusLine, "Stopped on time"):
		status = milp.StatusSuboptimalTimeout
	default:
		return nil, fmt.Errorf("cbc reported %q", statusLine)
	}

	raw := &milp.RawSolution{Status: status, ColValues: make([]float64, m.NumVars())}
	if i := strings.Index(statusLine, "objective value"); i >= 0 {
		obj, err := strconv.ParseFloat(strings.TrimSpace(statusLine[i+len("objective value"):]), 64)
		if err != nil {
			return nil, fmt.Errorf("cbc objective unparseable in %q", statusLine)
		}
		raw.Objective = obj
	}

	seen := false
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) > 0 && fields[0] == "**" {
			fields = fields[1:]
		}
		if len(fields) < 3 {
			continue
		}
		col, ok := colByName[fields[1]]
		if !ok {
			continue
		}
		val, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("cbc value for %s unparseable: %w", fields[1], err)
		}
		raw.ColValues[col] = val
		seen = true
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !seen {
		if status == milp.StatusSuboptimalTimeout {
			return nil, &milp.TimeoutError{Limit: opts.TimeLimit}
		}
		return nil, fmt.Errorf("cbc solution file carried no variable values")
	}
	return raw, nil
}
