package api

import (
	"fmt"
	"strings"

	"cargoalloc/internal/model"
)

func validateSolveRequest(req *model.SolveRequest) error {
	if req.ScenarioID == "" && req.Dataset == nil {
		return fmt.Errorf("one of scenarioId or dataset is required")
	}
	if req.ScenarioID != "" && req.Dataset != nil {
		return fmt.Errorf("scenarioId and dataset are mutually exclusive")
	}
	if req.Solver != "" && req.Solver != "bnb" && req.Solver != "cbc" {
		return fmt.Errorf("invalid solver: %s", req.Solver)
	}
	if req.TimeLimitMs < 0 {
		return fmt.Errorf("timeLimitMs must be >= 0")
	}
	if req.Dataset != nil {
		return validateDatasetIn(req.Dataset)
	}
	return nil
}

func validateDatasetIn(ds *model.DatasetIn) error {
	if len(ds.Sites) == 0 {
		return fmt.Errorf("dataset must have at least one site")
	}
	if len(ds.Transporters) == 0 {
		return fmt.Errorf("dataset must have at least one transporter")
	}
	for i, s := range ds.Sites {
		if s.DemandTons < 0 {
			return fmt.Errorf("site %d: demandTons must be >= 0", i)
		}
		if s.RatePerTon < 0 {
			return fmt.Errorf("site %d: ratePerTon must be >= 0", i)
		}
	}
	// Each quota is a share in [0,1]; the quotas need not sum to 1.
	for i, tr := range ds.Transporters {
		if tr.Quota < 0 || tr.Quota > 1 {
			return fmt.Errorf("transporter %d: quota must be in [0,1]", i)
		}
	}
	if ds.MinPerAssignment < 0 {
		return fmt.Errorf("minPerAssignment must be >= 0")
	}
	if ds.MaxPerAssignment <= 0 {
		return fmt.Errorf("maxPerAssignment must be > 0")
	}
	if ds.MinPerAssignment > ds.MaxPerAssignment {
		return fmt.Errorf("minPerAssignment must not exceed maxPerAssignment")
	}
	if ds.WeightTonnage != nil && *ds.WeightTonnage < 0 {
		return fmt.Errorf("weightTonnage must be >= 0")
	}
	if ds.WeightRevenue != nil && *ds.WeightRevenue < 0 {
		return fmt.Errorf("weightRevenue must be >= 0")
	}
	for i, s := range ds.Sites {
		if strings.TrimSpace(s.Name) == "" {
			ds.Sites[i].Name = fmt.Sprintf("S%d", i)
		}
	}
	for i, tr := range ds.Transporters {
		if strings.TrimSpace(tr.Name) == "" {
			ds.Transporters[i].Name = fmt.Sprintf("T%d", i)
		}
	}
	return nil
}
