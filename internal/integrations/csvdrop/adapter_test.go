package csvdrop

import (
	"strings"
	"testing"
)

func TestParseDataset(t *testing.T) {
	in := `kind,name,value1,value2
site,Harbor A,20,2.0
site,Harbor B,30,3.0
transporter,north,0.5,
transporter,south,0.5,
param,minPerAssignment,5,
param,maxPerAssignment,30,
param,weightRevenue,0.01,
`
	ds, err := Adapter{}.Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ds.Sites) != 2 || len(ds.Transporters) != 2 {
		t.Fatalf("got %d sites, %d transporters", len(ds.Sites), len(ds.Transporters))
	}
	if ds.Sites[1].Name != "Harbor B" || ds.Sites[1].DemandTons != 30 || ds.Sites[1].RatePerTon != 3 {
		t.Fatalf("site 1: %+v", ds.Sites[1])
	}
	if ds.Transporters[0].Quota != 0.5 {
		t.Fatalf("quota: %v", ds.Transporters[0].Quota)
	}
	if ds.MinPerAssignment != 5 || ds.MaxPerAssignment != 30 {
		t.Fatalf("bounds: %v..%v", ds.MinPerAssignment, ds.MaxPerAssignment)
	}
	if ds.WeightTonnage != nil {
		t.Fatalf("weightTonnage should stay unset")
	}
	if ds.WeightRevenue == nil || *ds.WeightRevenue != 0.01 {
		t.Fatalf("weightRevenue: %v", ds.WeightRevenue)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"bad kind", "depot,X,1,2\n"},
		{"bad number", "site,X,abc,2\n"},
		{"short site row", "site,X\n"},
		{"unknown param", "site,X,1,2\ntransporter,T,0.5,\nparam,bigM,50,\n"},
		{"no sites", "transporter,T,0.5,\n"},
		{"no transporters", "site,X,1,2\n"},
	}
	for _, tc := range cases {
		if _, err := (Adapter{}).Parse(strings.NewReader(tc.in)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
