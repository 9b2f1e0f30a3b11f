package solver

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cargoalloc/internal/milp"
)

func TestWriteLPFile(t *testing.T) {
	m := buildModel(t,
		[]milp.Site{{Demand: 20, Rate: 2}, {Demand: 30, Rate: 3}},
		[]milp.Transporter{{Quota: 0.5}, {Quota: 0.5}},
		5, 30, 1, 0.001,
	)
	path := filepath.Join(t.TempDir(), "model.lp")
	if err := writeLPFile(path, m); err != nil {
		t.Fatalf("writeLPFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		"Minimize",
		"obj: 1 u_0 + 1 u_1 + 0.001 v_0 + 0.001 v_1",
		"cover_0: 1 x_0_0 + 1 x_1_0 = 20",
		"link_hi_0_1: 1 x_0_1 - 30 y_0_1 <= 0",
		"link_lo_1_0: 1 x_1_0 - 5 y_1_0 >= 0",
		"Binaries",
		" y_1_1",
		"End",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("LP file missing %q:\n%s", want, text)
		}
	}
}

func TestParseCBCSolutionOptimal(t *testing.T) {
	m := buildModel(t,
		[]milp.Site{{Demand: 20, Rate: 2}, {Demand: 30, Rate: 3}},
		[]milp.Transporter{{Quota: 0.5}, {Quota: 0.5}},
		5, 30, 1, 0.001,
	)
	sol := `Optimal - objective value 0.00000000
      0 x_0_0                       10                       0
      1 x_0_1                       15                       0
      2 x_1_0                       10                       0
      3 x_1_1                       15                       0
      4 y_0_0                        1                       0
      5 y_0_1                        1                       0
      6 y_1_0                        1                       0
      7 y_1_1                        1                       0
`
	path := filepath.Join(t.TempDir(), "model.sol")
	if err := os.WriteFile(path, []byte(sol), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := parseCBCSolution(path, m, milp.Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if raw.Status != milp.StatusOptimal || raw.Objective != 0 {
		t.Fatalf("status/objective: %v %v", raw.Status, raw.Objective)
	}
	if got := raw.ColValues[m.XIndex(0, 1)]; got != 15 {
		t.Fatalf("x_0_1: got %v", got)
	}
	res, err := milp.Extract(m, raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Transporters[0].AssignedTons != 25 {
		t.Fatalf("assigned tons: got %v", res.Transporters[0].AssignedTons)
	}
}

func TestParseCBCSolutionInfeasible(t *testing.T) {
	m := buildModel(t,
		[]milp.Site{{Demand: 20, Rate: 2}},
		[]milp.Transporter{{Quota: 1}},
		5, 30, 1, 0.001,
	)
	path := filepath.Join(t.TempDir(), "model.sol")
	if err := os.WriteFile(path, []byte("Infeasible - objective value 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := parseCBCSolution(path, m, milp.Options{})
	var ie *milp.InfeasibleError
	if !errors.As(err, &ie) {
		t.Fatalf("want InfeasibleError, got %v", err)
	}
}

func TestParseCBCSolutionTimeout(t *testing.T) {
	m := buildModel(t,
		[]milp.Site{{Demand: 20, Rate: 2}},
		[]milp.Transporter{{Quota: 1}},
		5, 30, 1, 0.001,
	)
	sol := `Stopped on time - objective value 4.00000000
      0 x_0_0                       20                       0
      1 y_0_0                        1                       0
      2 u_0                          0                       0
      3 v_0                          4                       0
`
	path := filepath.Join(t.TempDir(), "model.sol")
	if err := os.WriteFile(path, []byte(sol), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := parseCBCSolution(path, m, milp.Options{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if raw.Status != milp.StatusSuboptimalTimeout {
		t.Fatalf("status: got %v", raw.Status)
	}
}
