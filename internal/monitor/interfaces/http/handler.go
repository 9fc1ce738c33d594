package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	alarms "machine-monitor/internal/alarms/domain"
	insight "machine-monitor/internal/insight/domain"
	machines "machine-monitor/internal/machines/domain"
	monitorapp "machine-monitor/internal/monitor/application"
	"machine-monitor/internal/observability/metrics"
	"machine-monitor/internal/reports"
	"machine-monitor/internal/telemetry/infrastructure/feed"
	"machine-monitor/internal/telemetry/infrastructure/simulator"
)

const maxBodyBytes = 1 << 20

// Handler serves the machine control endpoints.
type Handler struct {
	engine      *monitorapp.Engine
	logger      *zap.Logger
	insightWait time.Duration
}

func (h *Handler) listMachines(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Machines())
}

func (h *Handler) registerMachine(w http.ResponseWriter, r *http.Request) {
	var profile machines.MachineProfile
	if err := decodeBody(r, &profile); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.engine.Register(r.Context(), &profile); err != nil {
		h.respondError(w, err)
		return
	}
	view, err := h.engine.Machine(profile.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) getMachine(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.Machine(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) deregisterMachine(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Deregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listSnapshots(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshots())
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	history, err := h.engine.History(chi.URLParam(r, "id"), limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) getTransitions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	journal, err := h.engine.Journal(chi.URLParam(r, "id"), limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, journal)
}

type insightResponse struct {
	MachineID   string           `json:"machine_id"`
	Status      string           `json:"status"`
	Alerts      []string         `json:"alerts"`
	Insight     *insight.Result  `json:"insight,omitempty"`
	LastFailure *insight.Failure `json:"last_failure,omitempty"`
	Pending     bool             `json:"pending"`
}

// forceInsight requests a narrative and waits up to insightWait for it. A
// call still running after that answers 202 and keeps going in the background.
func (h *Handler) forceInsight(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pending, err := h.engine.RequestInsight(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := insightResponse{MachineID: id, Alerts: []string{}}
	if score, err := h.engine.Score(id); err == nil {
		resp.Status = score.Tier.String()
		for _, d := range score.Anomalies {
			resp.Alerts = append(resp.Alerts, d.Message)
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.insightWait)
	defer cancel()
	result, err := pending.Wait(ctx)
	switch {
	case err == nil:
		resp.Insight = &result
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		resp.Pending = true
		writeJSON(w, http.StatusAccepted, resp)
	case errors.Is(err, insight.ErrDeregistered):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		if status, serr := h.engine.Insight(id); serr == nil {
			resp.Insight = status.Latest
			resp.LastFailure = status.LastFailure
		}
		writeJSON(w, http.StatusBadGateway, resp)
	}
}

func (h *Handler) getInsight(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Insight(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) ingestReading(w http.ResponseWriter, r *http.Request) {
	// Missing or null values decode as NaN and are scored as non-numeric.
	var reading machines.Reading
	if err := decodeBody(r, &reading); err != nil {
		metrics.ObserveIngest(metrics.ResultError, 0)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	accepted, err := h.engine.Ingest(chi.URLParam(r, "id"), reading)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"machine_id": accepted.MachineID,
		"seq":        accepted.Seq,
		"timestamp":  accepted.Timestamp,
	})
}

type simulateRequest struct {
	Mode      string             `json:"mode"`
	Parameter machines.Parameter `json:"parameter"`
	Rate      float64            `json:"rate"`
	Factor    float64            `json:"factor"`
	Ticks     int                `json:"ticks"`
}

func (h *Handler) simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	var err error
	switch req.Mode {
	case "drift":
		err = h.engine.InjectDrift(id, simulator.Drift{Parameter: req.Parameter, Rate: req.Rate, Ticks: req.Ticks})
	case "spike":
		err = h.engine.InjectSpike(id, simulator.Spike{Parameter: req.Parameter, Factor: req.Factor, Ticks: req.Ticks})
	case "clear":
		err = h.engine.ClearInjections(id)
	default:
		http.Error(w, fmt.Sprintf("unknown mode %q", req.Mode), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"machine_id": id, "mode": req.Mode})
}

func (h *Handler) fleetReport(w http.ResponseWriter, _ *http.Request) {
	start := time.Now()
	data, err := reports.BuildFleetXLSX(h.engine.FleetReport())
	h.observeExport("xlsx", start, err)
	if err != nil {
		h.logger.Error("fleet export failed", zap.Error(err))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="fleet.xlsx"`)
	_, _ = w.Write(data)
}

func (h *Handler) incidentReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inc, err := h.engine.IncidentReport(id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	start := time.Now()
	data, err := reports.BuildIncidentPDF(inc)
	h.observeExport("pdf", start, err)
	if err != nil {
		h.logger.Error("incident export failed", zap.String("machine", id), zap.Error(err))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-report.pdf"`, id))
	_, _ = w.Write(data)
}

func (h *Handler) observeExport(format string, start time.Time, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveReportExport(format, result, time.Since(start))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, monitorapp.ErrUnknownMachine), errors.Is(err, insight.ErrUnknownMachine):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, monitorapp.ErrDuplicateMachine):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, monitorapp.ErrNotExternal), errors.Is(err, monitorapp.ErrNotSimulated),
		errors.Is(err, feed.ErrOutOfOrder):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, feed.ErrFutureTimestamp):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, feed.ErrQueueFull):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, monitorapp.ErrNoReading):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, monitorapp.ErrInsightDisabled):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, machines.ErrInvalidProfile), errors.Is(err, alarms.ErrInvalidPolicy):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Warn("request failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
