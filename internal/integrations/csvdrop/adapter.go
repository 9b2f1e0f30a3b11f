// Package csvdrop parses the CSV files the regional offices upload: one row
// per site or transporter, plus optional param rows for the assignment bounds.
package csvdrop

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"cargoalloc/internal/integrations"
	"cargoalloc/internal/model"
)

// Adapter reads records of the form
//
//	kind,name,value1,value2
//	site,Harbor A,20,2.0
//	transporter,north,0.5,
//	param,minPerAssignment,5,
//	param,maxPerAssignment,30,
//
// A header row is detected by kind == "kind" and skipped.
type Adapter struct{}

func init() { integrations.Register(Adapter{}) }

func (Adapter) Name() string { return "csv" }

func (Adapter) Parse(r io.Reader) (model.DatasetIn, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var ds model.DatasetIn
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.DatasetIn{}, fmt.Errorf("csv line %d: %w", line+1, err)
		}
		line++
		if len(rec) == 0 {
			continue
		}
		kind := strings.ToLower(strings.TrimSpace(rec[0]))
		if kind == "" || kind == "kind" {
			continue
		}
		switch kind {
		case "site":
			if len(rec) < 4 {
				return model.DatasetIn{}, fmt.Errorf("csv line %d: site rows need name, demand, rate", line)
			}
			demand, err := parseFloat(rec[2])
			if err != nil {
				return model.DatasetIn{}, fmt.Errorf("csv line %d: demand: %w", line, err)
			}
			rate, err := parseFloat(rec[3])
			if err != nil {
				return model.DatasetIn{}, fmt.Errorf("csv line %d: rate: %w", line, err)
			}
			ds.Sites = append(ds.Sites, model.SiteIn{Name: strings.TrimSpace(rec[1]), DemandTons: demand, RatePerTon: rate})
		case "transporter":
			if len(rec) < 3 {
				return model.DatasetIn{}, fmt.Errorf("csv line %d: transporter rows need name, quota", line)
			}
			quota, err := parseFloat(rec[2])
			if err != nil {
				return model.DatasetIn{}, fmt.Errorf("csv line %d: quota: %w", line, err)
			}
			ds.Transporters = append(ds.Transporters, model.TransporterIn{Name: strings.TrimSpace(rec[1]), Quota: quota})
		case "param":
			if len(rec) < 3 {
				return model.DatasetIn{}, fmt.Errorf("csv line %d: param rows need name, value", line)
			}
			val, err := parseFloat(rec[2])
			if err != nil {
				return model.DatasetIn{}, fmt.Errorf("csv line %d: param %s: %w", line, rec[1], err)
			}
			switch strings.TrimSpace(rec[1]) {
			case "minPerAssignment":
				ds.MinPerAssignment = val
			case "maxPerAssignment":
				ds.MaxPerAssignment = val
			case "weightTonnage":
				v := val
				ds.WeightTonnage = &v
			case "weightRevenue":
				v := val
				ds.WeightRevenue = &v
			default:
				return model.DatasetIn{}, fmt.Errorf("csv line %d: unknown param %q", line, rec[1])
			}
		default:
			return model.DatasetIn{}, fmt.Errorf("csv line %d: unknown kind %q", line, kind)
		}
	}
	if len(ds.Sites) == 0 {
		return model.DatasetIn{}, fmt.Errorf("csv contains no site rows")
	}
	if len(ds.Transporters) == 0 {
		return model.DatasetIn{}, fmt.Errorf("csv contains no transporter rows")
	}
	return ds, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
