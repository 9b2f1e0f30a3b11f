// Package report renders an allocation result as the plain-text tables the
// planning team reads: a per-transporter summary and the full tonnage matrix.
package report

import (
	"fmt"
	"io"
	"strings"

	"cargoalloc/internal/milp"
)

// Write renders res to w. The layout is stable, so downstream tooling may
// diff successive reports.
func Write(w io.Writer, res *milp.AllocationResult) error {
	if _, err := fmt.Fprintln(w, "Transporter | Target tons | Assigned tons | Target rev | Assigned rev"); err != nil {
		return err
	}
	for i, tr := range res.Transporters {
		if _, err := fmt.Fprintf(w, "%3d | %14.2f | %15.2f | %14.2f | %10.2f\n",
			i, tr.TargetTons, tr.AssignedTons, tr.TargetRevenue, tr.AssignedRevenue); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprint(w, "\nTonnage allocation (tons) per transporter per site:\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "Rows = Transporters, Columns = Sites"); err != nil {
		return err
	}
	nSites := 0
	if len(res.Matrix) > 0 {
		nSites = len(res.Matrix[0])
	}
	header := make([]string, nSites)
	for j := 0; j < nSites; j++ {
		header[j] = fmt.Sprintf("S%2d", j)
	}
	if _, err := fmt.Fprintln(w, strings.Repeat(" ", 14)+strings.Join(header, " ")); err != nil {
		return err
	}
	for i, row := range res.Matrix {
		cells := make([]string, len(row))
		for j, x := range row {
			cells[j] = fmt.Sprintf("%6.2f", x)
		}
		if _, err := fmt.Fprintf(w, "Transporter %2d: %s\n", i, strings.Join(cells, " ")); err != nil {
			return err
		}
	}
	return nil
}

// Render returns the report as a string.
func Render(res *milp.AllocationResult) string {
	var sb strings.Builder
	_ = Write(&sb, res)
	return sb.String()
}
