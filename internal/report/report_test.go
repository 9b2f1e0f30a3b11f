package report

import (
	"strings"
	"testing"

	"cargoalloc/internal/milp"
)

func TestRender(t *testing.T) {
	res := &milp.AllocationResult{
		Status:    milp.StatusOptimal,
		Objective: 0,
		Transporters: []milp.TransporterAllocation{
			{TargetTons: 25, AssignedTons: 25, TargetRevenue: 65, AssignedRevenue: 65},
			{TargetTons: 25, AssignedTons: 25, TargetRevenue: 65, AssignedRevenue: 65},
		},
		Matrix: [][]float64{{10, 15}, {10, 15}},
	}
	out := Render(res)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if lines[0] != "Transporter | Target tons | Assigned tons | Target rev | Assigned rev" {
		t.Fatalf("header: %q", lines[0])
	}
	if !strings.Contains(out, "  0 |          25.00 |           25.00 |          65.00 |      65.00") {
		t.Fatalf("summary row missing:\n%s", out)
	}
	if !strings.Contains(out, "Rows = Transporters, Columns = Sites") {
		t.Fatalf("matrix preamble missing:\n%s", out)
	}
	if !strings.Contains(out, "Transporter  1:  10.00  15.00") {
		t.Fatalf("matrix row missing:\n%s", out)
	}
	if !strings.Contains(out, "S 0 S 1") {
		t.Fatalf("site header missing:\n%s", out)
	}
}

func TestRenderEmptyMatrix(t *testing.T) {
	out := Render(&milp.AllocationResult{Status: milp.StatusOptimal})
	if !strings.Contains(out, "Transporter | Target tons") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
