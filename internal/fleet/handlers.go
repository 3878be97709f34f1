package fleet

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/upkeep/internal/server"
	"github.com/HerbHall/upkeep/pkg/maintenance"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
	maxBodyBytes        = 1 << 20
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps service errors onto problem responses: validation is 400,
// missing machines or intervals 404, duplicates 409.
func (m *Module) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *maintenance.ValidationError
	switch {
	case errors.As(err, &verr):
		server.BadRequest(w, verr.Error(), r.URL.Path)
	case errors.Is(err, maintenance.ErrNotFound):
		server.NotFound(w, err.Error(), r.URL.Path)
	case errors.Is(err, ErrMachineExists), errors.Is(err, ErrIntervalExists):
		server.Conflict(w, err.Error(), r.URL.Path)
	default:
		m.logger.Error("fleet request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		server.InternalError(w, "internal error", r.URL.Path)
	}
}

// decodeBody reads a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return &maintenance.ValidationError{Field: "body", Reason: err.Error()}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		var verr *maintenance.ValidationError
		if errors.As(err, &verr) {
			return err
		}
		return &maintenance.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()}
	}
	return nil
}

// queryInt parses an integer query parameter. ok is false when it is absent.
func queryInt(r *http.Request, key string) (n int, ok bool, err error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, false, nil
	}
	n, err = strconv.Atoi(raw)
	if err != nil {
		return 0, true, &maintenance.ValidationError{Field: key, Reason: "must be an integer, got " + strconv.Quote(raw)}
	}
	return n, true, nil
}

func historyLimit(r *http.Request) (int, error) {
	n, ok, err := queryInt(r, "limit")
	if err != nil {
		return 0, err
	}
	if !ok || n <= 0 {
		return defaultHistoryLimit, nil
	}
	return min(n, maxHistoryLimit), nil
}

func (m *Module) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := m.svc.Summary(r.Context())
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (m *Module) handleScan(w http.ResponseWriter, r *http.Request) {
	res, err := m.svc.Scan(r.Context(), m.cfg.HistoryRetention)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (m *Module) handleListMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := m.svc.ListMachines(r.Context())
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, machines)
}

func (m *Module) handleCreateMachine(w http.ResponseWriter, r *http.Request) {
	var req maintenance.Machine
	if err := decodeBody(r, &req); err != nil {
		m.writeError(w, r, err)
		return
	}
	created, err := m.svc.CreateMachine(r.Context(), req)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (m *Module) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	machine, err := m.svc.GetMachine(r.Context(), r.PathValue("id"))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, machine)
}

func (m *Module) handleUpdateMachine(w http.ResponseWriter, r *http.Request) {
	var req maintenance.Machine
	if err := decodeBody(r, &req); err != nil {
		m.writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if req.ID != "" && req.ID != id {
		server.BadRequest(w, "body id does not match path", r.URL.Path)
		return
	}
	req.ID = id

	updated, err := m.svc.UpdateMachine(r.Context(), req)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (m *Module) handleDeleteMachine(w http.ResponseWriter, r *http.Request) {
	if err := m.svc.DeleteMachine(r.Context(), r.PathValue("id")); err != nil {
		m.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleMachineStatus(w http.ResponseWriter, r *http.Request) {
	report, err := m.svc.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ForecastResponse is the body of GET /machines/{id}/forecast.
type ForecastResponse struct {
	MachineID string                      `json:"machine_id"`
	From      maintenance.Date            `json:"from"`
	Days      int                         `json:"days"`
	Forecast  []maintenance.DayPrediction `json:"forecast"`
}

func (m *Module) handleForecast(w http.ResponseWriter, r *http.Request) {
	days, ok, err := queryInt(r, "days")
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	if !ok {
		days = m.svc.Evaluator().Policy().DefaultHorizonDays
	}

	id := r.PathValue("id")
	forecast, err := m.svc.Forecast(r.Context(), id, days)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ForecastResponse{
		MachineID: id,
		From:      m.svc.Today(),
		Days:      len(forecast),
		Forecast:  forecast,
	})
}

func (m *Module) handleMachineHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := historyLimit(r)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	entries, err := m.svc.History(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (m *Module) handleFleetHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := historyLimit(r)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	entries, err := m.svc.History(r.Context(), "", limit)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// RecordCyclesRequest is the body of POST /machines/{id}/cycles.
type RecordCyclesRequest struct {
	Cycles *int `json:"cycles"`
}

// RecordCyclesResponse returns the event and the machine's new status.
type RecordCyclesResponse struct {
	Event  maintenance.CycleEvent    `json:"event"`
	Report maintenance.MachineReport `json:"report"`
}

func (m *Module) handleRecordCycles(w http.ResponseWriter, r *http.Request) {
	var req RecordCyclesRequest
	if err := decodeBody(r, &req); err != nil {
		m.writeError(w, r, err)
		return
	}
	if req.Cycles == nil {
		server.BadRequest(w, "cycles is required", r.URL.Path)
		return
	}

	ev, report, err := m.svc.RecordCycles(r.Context(), r.PathValue("id"), *req.Cycles)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RecordCyclesResponse{Event: ev, Report: report})
}

func (m *Module) handleAddInterval(w http.ResponseWriter, r *http.Request) {
	iv, err := readInterval(r)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	machine, err := m.svc.AddInterval(r.Context(), r.PathValue("id"), iv)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, machine)
}

func (m *Module) handleUpdateInterval(w http.ResponseWriter, r *http.Request) {
	iv, err := readInterval(r)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	machine, err := m.svc.UpdateInterval(r.Context(), r.PathValue("id"), r.PathValue("name"), iv)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, machine)
}

func (m *Module) handleRemoveInterval(w http.ResponseWriter, r *http.Request) {
	machine, err := m.svc.RemoveInterval(r.Context(), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, machine)
}

func (m *Module) handleResetInterval(w http.ResponseWriter, r *http.Request) {
	report, err := m.svc.ResetInterval(r.Context(), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func readInterval(r *http.Request) (maintenance.Interval, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, &maintenance.ValidationError{Field: "body", Reason: err.Error()}
	}
	return maintenance.UnmarshalInterval(data)
}
