package maintenance

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMachine_JSONShape(t *testing.T) {
	off := NewCalendar("annual", 12, NewDate(2023, time.January, 1))
	off.Enabled = false
	m := Machine{
		ID:             "M01",
		Name:           "Injection moulder A1",
		AvgDailyCycles: 2,
		Intervals: []Interval{
			NewCyclic("mould", 20, 18, NewDate(2023, time.October, 1)),
			off,
		},
	}

	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{
		`"service_intervals":[`,
		`{"name":"mould","kind":"cyclic","threshold":20,"current_value":18,"last_service_date":"2023-10-01","enabled":true}`,
		`{"name":"annual","kind":"calendar","threshold":12,"last_service_date":"2023-01-01","enabled":false}`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("marshal output missing %s\n got %s", want, s)
		}
	}

	var back Machine
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back.Intervals) != 2 {
		t.Fatalf("intervals = %d, want 2", len(back.Intervals))
	}
	c, ok := back.Intervals[0].(*CyclicInterval)
	if !ok || c.Cycles != 18 || !c.Enabled {
		t.Errorf("cyclic interval decoded as %#v", back.Intervals[0])
	}
	if back.Intervals[1].Base().Enabled {
		t.Error("calendar interval should stay disabled")
	}
}

func TestUnmarshalInterval_DefaultsAndErrors(t *testing.T) {
	iv, err := UnmarshalInterval([]byte(`{"name":"x","kind":"calendar","threshold":3,"last_service_date":"2024-12-01"}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !iv.Base().Enabled {
		t.Error("missing enabled should default to true")
	}

	bad := []string{
		`{"name":"x","kind":"weekly","threshold":3,"last_service_date":"2024-12-01"}`,
		`{"name":"x","kind":"calendar","threshold":3,"current_value":4,"last_service_date":"2024-12-01"}`,
		`{"name":"x","kind":"cyclic","threshold":3,"last_service_date":"12/01/2024"}`,
	}
	for _, in := range bad {
		if _, err := UnmarshalInterval([]byte(in)); !errors.Is(err, ErrInvalid) {
			t.Errorf("UnmarshalInterval(%s) error = %v, want ErrInvalid", in, err)
		}
	}
}

func TestMachine_Validate(t *testing.T) {
	today := NewDate(2025, time.March, 10)
	tests := []struct {
		name    string
		m       Machine
		wantErr bool
	}{
		{"valid", Machine{ID: "M1", Intervals: []Interval{NewCyclic("a", 1, 0, today)}}, false},
		{"missing id", Machine{}, true},
		{"negative rate", Machine{ID: "M1", AvgDailyCycles: -1}, true},
		{"duplicate names", Machine{ID: "M1", Intervals: []Interval{NewCyclic("a", 1, 0, today), NewCalendar("a", 1, today)}}, true},
		{"zero threshold", Machine{ID: "M1", Intervals: []Interval{NewCalendar("a", 0, today)}}, true},
		{"zero date", Machine{ID: "M1", Intervals: []Interval{NewCalendar("a", 1, Date{})}}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.m.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Errorf("error %T is not *ValidationError", err)
				}
			}
		})
	}
}

func TestMachine_CloneIsDeep(t *testing.T) {
	today := NewDate(2025, time.March, 10)
	m := Machine{ID: "M1", Intervals: []Interval{NewCyclic("a", 10, 1, today)}}
	cp := m.Clone()
	cp.Intervals[0].(*CyclicInterval).Cycles = 9
	cp.Intervals[0].Base().LastService = today.AddDays(1)

	orig := m.Intervals[0].(*CyclicInterval)
	if orig.Cycles != 1 || orig.LastService != today {
		t.Errorf("clone shares state with original: %#v", orig)
	}
}

func TestStatus_OrderAndText(t *testing.T) {
	if !(StatusOK < StatusWarning && StatusWarning < StatusCritical) {
		t.Fatal("status order broken")
	}
	if Worst(StatusWarning, StatusOK) != StatusWarning || Worst(StatusOK, StatusCritical) != StatusCritical {
		t.Error("Worst picked the wrong status")
	}
	b, _ := json.Marshal(map[string]Status{"s": StatusCritical})
	if string(b) != `{"s":"critical"}` {
		t.Errorf("marshal = %s", b)
	}
	if _, err := ParseStatus("red"); !errors.Is(err, ErrInvalid) {
		t.Errorf("ParseStatus(red) error = %v", err)
	}
}
