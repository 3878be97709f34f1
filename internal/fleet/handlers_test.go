package fleet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/HerbHall/upkeep/internal/testutil"
	"github.com/HerbHall/upkeep/pkg/maintenance"
	"github.com/HerbHall/upkeep/pkg/plugin"
)

func newTestModule(t *testing.T, seed bool) (*Module, *http.ServeMux) {
	t.Helper()
	m := New()
	deps := plugin.Dependencies{
		Logger: zap.NewNop(),
		Store:  testutil.NewStore(t),
		Bus:    testutil.NewMockBus(),
		Clock:  testutil.FixedClock(testNow),
	}
	if err := m.Init(context.Background(), deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if seed {
		if _, err := SeedDemo(context.Background(), deps.Store, m.store, testNow); err != nil {
			t.Fatalf("SeedDemo: %v", err)
		}
	}

	mux := http.NewServeMux()
	for _, r := range m.Routes() {
		mux.HandleFunc(r.Method+" "+r.Path, r.Handler)
	}
	return m, mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v (body %q)", v, err, w.Body.String())
	}
	return v
}

func TestHandleListMachines_Seeded(t *testing.T) {
	_, mux := newTestModule(t, true)

	w := do(mux, "GET", "/machines", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	list := decode[[]MachineSummary](t, w)
	if len(list) != 3 {
		t.Fatalf("machines = %d", len(list))
	}
	// Every demo machine has a long-overdue calendar interval by 2025.
	for _, m := range list {
		if m.Status != maintenance.StatusCritical {
			t.Errorf("%s status = %v", m.ID, m.Status)
		}
	}
}

func TestHandleCreateAndGetMachine(t *testing.T) {
	_, mux := newTestModule(t, false)

	body := `{
		"id": "P1",
		"name": "Press",
		"avg_daily_cycles": 4,
		"service_intervals": [
			{"name": "Seals", "kind": "cyclic", "threshold": 50, "current_value": 3, "last_service_date": "2025-03-01"},
			{"name": "Safety", "kind": "calendar", "threshold": 3, "last_service_date": "2025-01-15", "enabled": false}
		]
	}`
	w := do(mux, "POST", "/machines", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "/machines/P1" {
		t.Errorf("Location = %q", loc)
	}

	if w := do(mux, "POST", "/machines", body); w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d", w.Code)
	}

	w = do(mux, "GET", "/machines/P1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}
	got := decode[maintenance.Machine](t, w)
	if got.Name != "Press" || len(got.Intervals) != 2 || got.Intervals[1].Base().Enabled {
		t.Errorf("machine = %+v", got)
	}
}

func TestHandleCreateMachine_BadInput(t *testing.T) {
	_, mux := newTestModule(t, false)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"id": `},
		{"bad date", `{"id":"X","service_intervals":[{"name":"a","kind":"cyclic","threshold":5,"last_service_date":"2025-02-30"}]}`},
		{"unknown kind", `{"id":"X","service_intervals":[{"name":"a","kind":"hourly","threshold":5,"last_service_date":"2025-02-01"}]}`},
		{"zero threshold", `{"id":"X","service_intervals":[{"name":"a","kind":"cyclic","threshold":0,"last_service_date":"2025-02-01"}]}`},
		{"negative rate", `{"id":"X","avg_daily_cycles":-1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(mux, "POST", "/machines", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", w.Code, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestHandleMachineStatus(t *testing.T) {
	_, mux := newTestModule(t, true)

	w := do(mux, "GET", "/machines/M03/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	report := decode[maintenance.MachineReport](t, w)
	if report.Status != maintenance.StatusCritical || len(report.Assessments) != 2 {
		t.Errorf("report = %+v", report)
	}
	if report.Assessments[1].NextDue == nil || report.Assessments[1].NextDue.String() != "2024-01-01" {
		t.Errorf("calendar next due = %v", report.Assessments[1].NextDue)
	}

	if w := do(mux, "GET", "/machines/NOPE/status", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown machine = %d", w.Code)
	}
}

func TestHandleForecast(t *testing.T) {
	_, mux := newTestModule(t, true)

	tests := []struct {
		name     string
		query    string
		wantCode int
		wantDays int
	}{
		{"default horizon", "", http.StatusOK, 7},
		{"explicit", "?days=30", http.StatusOK, 30},
		{"zero", "?days=0", http.StatusOK, 0},
		{"too far", "?days=400", http.StatusBadRequest, 0},
		{"not a number", "?days=week", http.StatusBadRequest, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(mux, "GET", "/machines/M01/forecast"+tc.query, "")
			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.wantCode, w.Body.String())
			}
			if tc.wantCode != http.StatusOK {
				return
			}
			resp := decode[ForecastResponse](t, w)
			if resp.Days != tc.wantDays || len(resp.Forecast) != tc.wantDays {
				t.Errorf("days = %d, forecast len %d", resp.Days, len(resp.Forecast))
			}
		})
	}
}

func TestHandleRecordCycles(t *testing.T) {
	_, mux := newTestModule(t, true)

	w := do(mux, "POST", "/machines/M02/cycles", `{"cycles": 10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	resp := decode[RecordCyclesResponse](t, w)
	if resp.Event.Delta != 10 || resp.Report.Assessments[0].Remaining != 35 {
		t.Errorf("response = %+v", resp)
	}

	for _, body := range []string{`{"cycles": -5}`, `{}`, `nope`} {
		if w := do(mux, "POST", "/machines/M02/cycles", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s = %d, want 400", body, w.Code)
		}
	}
	if w := do(mux, "POST", "/machines/NOPE/cycles", `{"cycles": 1}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown machine = %d", w.Code)
	}
}

func TestHandleResetInterval(t *testing.T) {
	_, mux := newTestModule(t, true)

	w := do(mux, "POST", "/machines/M01/intervals/Mould%20change/reset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	report := decode[maintenance.MachineReport](t, w)
	if report.Assessments[0].Remaining != 20 {
		t.Errorf("remaining after reset = %d", report.Assessments[0].Remaining)
	}

	if w := do(mux, "POST", "/machines/M01/intervals/Nope/reset", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown interval = %d", w.Code)
	}
}

func TestHandleIntervalRoutes(t *testing.T) {
	_, mux := newTestModule(t, true)

	w := do(mux, "POST", "/machines/M01/intervals", `{"name":"Heater","kind":"calendar","threshold":12,"last_service_date":"2025-01-01"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add = %d %s", w.Code, w.Body.String())
	}
	w = do(mux, "PUT", "/machines/M01/intervals/Heater", `{"name":"Heater","kind":"calendar","threshold":6,"last_service_date":"2025-01-01"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d %s", w.Code, w.Body.String())
	}
	w = do(mux, "DELETE", "/machines/M01/intervals/Heater", "")
	if w.Code != http.StatusOK {
		t.Fatalf("remove = %d", w.Code)
	}
	if m := decode[maintenance.Machine](t, w); len(m.Intervals) != 2 {
		t.Errorf("intervals = %d", len(m.Intervals))
	}
}

func TestHandleIntervalDefaultsServiceDate(t *testing.T) {
	_, mux := newTestModule(t, true)

	w := do(mux, "POST", "/machines/M01/intervals", `{"name":"Filter","kind":"cyclic","threshold":40}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add = %d %s", w.Code, w.Body.String())
	}
	m := decode[maintenance.Machine](t, w)
	iv, ok := m.Interval("Filter")
	if !ok {
		t.Fatalf("Filter missing: %+v", m.Intervals)
	}
	if got := iv.Base().LastService.String(); got != "2025-03-10" {
		t.Errorf("last_service_date = %s, want 2025-03-10", got)
	}

	body := `{"id":"P2","name":"Lathe","service_intervals":[{"name":"Coolant","kind":"calendar","threshold":1}]}`
	w = do(mux, "POST", "/machines", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body.String())
	}
	created := decode[maintenance.Machine](t, w)
	if got := created.Intervals[0].Base().LastService.String(); got != "2025-03-10" {
		t.Errorf("created last_service_date = %s, want 2025-03-10", got)
	}
}

func TestHandleUpdateInterval_RenameConflict(t *testing.T) {
	_, mux := newTestModule(t, true)

	w := do(mux, "PUT", "/machines/M01/intervals/Mould%20change", `{"name":"Hydraulic oil","kind":"calendar","threshold":6,"last_service_date":"2025-01-01"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("rename onto existing = %d %s", w.Code, w.Body.String())
	}
}

func TestHandleUpdateAndDeleteMachine(t *testing.T) {
	_, mux := newTestModule(t, true)

	if w := do(mux, "PUT", "/machines/M01", `{"id":"M02","name":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("mismatched id = %d", w.Code)
	}
	if w := do(mux, "PUT", "/machines/M01", `{"name":"Moulder","avg_daily_cycles":3}`); w.Code != http.StatusOK {
		t.Errorf("update = %d %s", w.Code, w.Body.String())
	}
	if w := do(mux, "DELETE", "/machines/M01", ""); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if w := do(mux, "DELETE", "/machines/M01", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d", w.Code)
	}
}

func TestHandleSummaryAndHistory(t *testing.T) {
	_, mux := newTestModule(t, true)

	w := do(mux, "GET", "/summary", "")
	if w.Code != http.StatusOK {
		t.Fatalf("summary = %d", w.Code)
	}
	s := decode[Summary](t, w)
	if s.Total != 3 || s.Critical != 3 {
		t.Errorf("summary = %+v", s)
	}

	w = do(mux, "GET", "/history?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("history = %d", w.Code)
	}
	if entries := decode[[]HistoryEntry](t, w); len(entries) != 2 {
		t.Errorf("entries = %d", len(entries))
	}

	if w := do(mux, "GET", "/history?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", w.Code)
	}

	w = do(mux, "GET", "/machines/M02/history", "")
	if entries := decode[[]HistoryEntry](t, w); len(entries) != 1 || entries[0].Action != ActionMachineCreated {
		t.Errorf("machine history = %+v", entries)
	}
}

func TestHandleScan(t *testing.T) {
	_, mux := newTestModule(t, true)

	w := do(mux, "POST", "/scan", "")
	if w.Code != http.StatusOK {
		t.Fatalf("scan = %d", w.Code)
	}
	res := decode[ScanResult](t, w)
	// Seeded rows start at "ok" and are all critical by 2025.
	if res.Changed != 3 || res.Summary.Critical != 3 {
		t.Errorf("scan = %+v", res)
	}
}
