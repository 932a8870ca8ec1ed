package schema

import (
	"errors"
	"testing"

	"github.com/saviobatista/adsb-area-recorder/internal/types"
)

func baseRegistry() *Registry {
	return NewRegistry(
		types.Column{Name: "flight", Kind: types.KindText},
		types.Column{Name: "lat", Kind: types.KindFloat},
		types.Column{Name: "lon", Kind: types.KindFloat},
		types.Column{Name: "alt_baro", Kind: types.KindText},
		types.Column{Name: "time", Kind: types.KindFloat},
	)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    types.ColumnKind
		wantOK  bool
		wantErr bool
	}{
		{"nil", nil, 0, false, false},
		{"string", "1200", types.KindText, true, false},
		{"int64", int64(35000), types.KindInteger, true, false},
		{"float64", 451.3, types.KindFloat, true, false},
		{"string array", []string{"lat"}, types.KindTextArray, true, false},
		{"flattened object", types.Opaque(`{"a":1}`), types.KindOpaqueText, true, false},
		{"raw object", map[string]any{"a": 1}, types.KindOpaqueText, true, false},
		{"bool", true, 0, false, true},
		{"mixed array", []any{"a", 1.0}, types.KindOpaqueText, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := Classify(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Classify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrUnclassifiable) {
				t.Errorf("Expected ErrUnclassifiable, got %v", err)
			}
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Classify() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPlan_NewTextField(t *testing.T) {
	known := baseRegistry()
	batch := []types.Observation{
		{"flight": "UAL1", "lat": 40.0, "lon": -105.0, "alt_baro": int64(35000), "time": 1.0, "squawk": "1200"},
		{"flight": "UAL2", "lat": 41.0, "lon": -104.0, "alt_baro": "ground", "time": 1.0, "squawk": "7000"},
	}

	plan, err := Plan(known, batch)
	if err != nil {
		t.Fatalf("Plan() failed: %v", err)
	}
	if len(plan) != 1 {
		t.Fatalf("Expected 1 column, got %v", plan)
	}
	if plan[0] != (types.Column{Name: "squawk", Kind: types.KindText}) {
		t.Errorf("Expected squawk text column, got %+v", plan[0])
	}
}

func TestPlan_Unification(t *testing.T) {
	batch := []types.Observation{
		{"gs": int64(0), "alt_geom": int64(100), "nav_modes": []string{"autopilot"}, "emergency": nil, "acas_ra": types.Opaque(`{}`), "nic": nil},
		{"gs": 451.3, "alt_geom": "ground", "nav_modes": []string{}, "emergency": "none", "acas_ra": types.Opaque(`{"a":1}`)},
	}

	plan, err := Plan(NewRegistry(), batch)
	if err != nil {
		t.Fatalf("Plan() failed: %v", err)
	}

	want := []types.Column{
		{Name: "acas_ra", Kind: types.KindOpaqueText},
		{Name: "alt_geom", Kind: types.KindText},
		{Name: "emergency", Kind: types.KindText},
		{Name: "gs", Kind: types.KindFloat},
		{Name: "nav_modes", Kind: types.KindTextArray},
		{Name: "nic", Kind: types.KindText},
	}
	if len(plan) != len(want) {
		t.Fatalf("Expected %d columns, got %v", len(want), plan)
	}
	for i := range want {
		if plan[i] != want[i] {
			t.Errorf("plan[%d] = %+v, want %+v", i, plan[i], want[i])
		}
	}
}

func TestPlan_Unclassifiable(t *testing.T) {
	batch := []types.Observation{
		{"alert": true, "squawk": "1200", "mixed": []string{"x"}},
		{"mixed": "scalar"},
	}

	plan, err := Plan(NewRegistry(), batch)
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("Expected *SchemaError, got %v", err)
	}
	if len(schemaErr.Fields) != 2 || schemaErr.Fields[0].Field != "alert" || schemaErr.Fields[1].Field != "mixed" {
		t.Errorf("unexpected failed fields %+v", schemaErr.Fields)
	}
	if !errors.Is(err, ErrUnclassifiable) {
		t.Error("SchemaError should unwrap to ErrUnclassifiable")
	}
	if len(plan) != 1 || plan[0].Name != "squawk" {
		t.Errorf("classifiable fields should still be planned, got %v", plan)
	}
}

func TestPlan_KnownFieldsSkipped(t *testing.T) {
	known := baseRegistry()
	batch := []types.Observation{{"flight": "X", "lat": true}}

	plan, err := Plan(known, batch)
	if err != nil {
		t.Errorf("known fields should not be classified, got %v", err)
	}
	if len(plan) != 0 {
		t.Errorf("Expected empty plan, got %v", plan)
	}
}

func TestRegistry_Columns(t *testing.T) {
	r := baseRegistry()
	if r.Len() != 5 {
		t.Fatalf("Expected 5 columns, got %d", r.Len())
	}
	cols := r.Columns()
	for i := 1; i < len(cols); i++ {
		if cols[i-1].Name >= cols[i].Name {
			t.Errorf("Columns() not sorted: %v", cols)
		}
	}

	r.add(types.Column{Name: "lat", Kind: types.KindText})
	if k, _ := r.Kind("lat"); k != types.KindFloat {
		t.Error("existing columns must never be retyped")
	}
}
