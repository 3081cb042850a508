package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/phoenix-pocx/phoenixd/internal/errors"
	"github.com/phoenix-pocx/phoenixd/pkg/drives"
	"github.com/phoenix-pocx/phoenixd/pkg/events"
	"github.com/phoenix-pocx/phoenixd/pkg/plan"
	"github.com/phoenix-pocx/phoenixd/pkg/plotter"
)

const maxPlanBody = 8 << 20

// PlotterConfig wires the plotter endpoints.
type PlotterConfig struct {
	Dispatcher *plotter.Dispatcher

	// Controller is set when the daemon auto-advances. Start then dispatches
	// the current unit of work instead of only reporting it.
	Controller *plotter.Controller

	// Fingerprint returns the settings hash plans are compared against.
	Fingerprint func() (string, error)

	Registry *drives.Registry
	Logger   *zap.Logger

	// Events receives control-plane actions. Optional.
	Events ControlPublisher
}

// ControlPublisher streams control-plane actions to event subscribers.
type ControlPublisher interface {
	PublishControl(action string)
}

// Plotter serves the plan runtime over HTTP.
type Plotter struct {
	rt          *plotter.Runtime
	d           *plotter.Dispatcher
	ctrl        *plotter.Controller
	fingerprint func() (string, error)
	registry    *drives.Registry
	logger      *zap.Logger
	events      ControlPublisher
}

// NewPlotter creates the plotter handlers.
func NewPlotter(cfg PlotterConfig) *Plotter {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plotter{
		rt:          cfg.Dispatcher.Runtime(),
		d:           cfg.Dispatcher,
		ctrl:        cfg.Controller,
		fingerprint: cfg.Fingerprint,
		registry:    cfg.Registry,
		logger:      logger,
		events:      cfg.Events,
	}
}

// StateResponse extends the runtime snapshot with staleness and drive readiness.
type StateResponse struct {
	plotter.State
	AutoAdvance bool                `json:"autoAdvance"`
	ConfigHash  string              `json:"configHash,omitempty"`
	Stale       bool                `json:"stale"`
	ReadyDrives []drives.ReadyDrive `json:"readyDrives"`
}

// StartResponse is returned by Start.
type StartResponse struct {
	Item plan.Item    `json:"item"`
	Ack  *plotter.Ack `json:"ack,omitempty"`
}

// State serves GET /plotter/state.
func (h *Plotter) State(w http.ResponseWriter, r *http.Request) {
	resp := StateResponse{
		State:       h.rt.State(),
		AutoAdvance: h.ctrl != nil,
		ReadyDrives: []drives.ReadyDrive{},
	}
	if h.fingerprint != nil {
		hash, err := h.fingerprint()
		if err != nil {
			respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "compute settings fingerprint"))
			return
		}
		resp.ConfigHash = hash
		resp.Stale = resp.Plan.IsStale(hash)
	}
	if h.registry != nil {
		resp.ReadyDrives = h.registry.List()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPlan serves GET /plotter/plan.
func (h *Plotter) GetPlan(w http.ResponseWriter, r *http.Request) {
	p := h.rt.Plan()
	if p == nil {
		respondWithError(w, r, apperrors.NewNotFound("no plot plan exists"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PutPlan serves PUT /plotter/plan. The body is JSON, or YAML when the
// content type says so.
func (h *Plotter) PutPlan(w http.ResponseWriter, r *http.Request) {
	if h.rt.IsRunning() {
		respondWithError(w, r, plotter.ErrAlreadyRunning)
		return
	}
	name := "plan.json"
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		name = "plan.yaml"
	}
	p, err := plan.LoadFromReader(io.LimitReader(r.Body, maxPlanBody), name)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	h.rt.SetPlan(p)
	h.logger.Info("Plan installed", zap.Int("items", p.Len()), zap.String("config_hash", p.ConfigHash))
	h.publish(events.ActionPlanSet)
	writeJSON(w, http.StatusOK, p)
}

// DeletePlan serves DELETE /plotter/plan. It also clears any stop request.
func (h *Plotter) DeletePlan(w http.ResponseWriter, r *http.Request) {
	if h.rt.IsRunning() {
		respondWithError(w, r, plotter.ErrAlreadyRunning)
		return
	}
	h.rt.ClearPlan()
	h.rt.ClearStop()
	h.logger.Info("Plan cleared")
	h.publish(events.ActionPlanClear)
	w.WriteHeader(http.StatusNoContent)
}

// Start serves POST /plotter/start.
func (h *Plotter) Start(w http.ResponseWriter, r *http.Request) {
	if h.ctrl == nil {
		item, err := h.rt.Start()
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, StartResponse{Item: item})
		return
	}

	item, ack, err := h.ctrl.Start(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StartResponse{Item: item, Ack: &ack})
}

// SoftStop serves POST /plotter/stop/soft.
func (h *Plotter) SoftStop(w http.ResponseWriter, r *http.Request) {
	h.rt.RequestSoftStop()
	h.logger.Info("Soft stop requested")
	h.publish(events.ActionStopSoft)
	h.StopMode(w, r)
}

// HardStop serves POST /plotter/stop/hard.
func (h *Plotter) HardStop(w http.ResponseWriter, r *http.Request) {
	h.rt.RequestHardStop()
	h.logger.Info("Hard stop requested")
	h.publish(events.ActionStopHard)
	h.StopMode(w, r)
}

// ClearStop serves POST /plotter/stop/clear.
func (h *Plotter) ClearStop(w http.ResponseWriter, r *http.Request) {
	h.rt.ClearStop()
	h.publish(events.ActionStopClear)
	h.StopMode(w, r)
}

func (h *Plotter) publish(action string) {
	if h.events != nil {
		h.events.PublishControl(action)
	}
}

// StopMode serves GET /plotter/stop-mode.
func (h *Plotter) StopMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]plan.StopMode{"stopMode": h.rt.StopMode()})
}

// Running serves GET /plotter/running.
func (h *Plotter) Running(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"running": h.rt.IsRunning()})
}

// Advance serves POST /plotter/advance.
func (h *Plotter) Advance(w http.ResponseWriter, r *http.Request) {
	if h.rt.IsRunning() {
		respondWithError(w, r, plotter.ErrAlreadyRunning)
		return
	}
	res := h.rt.Advance()
	h.logger.Info("Plan advanced", zap.String("outcome", string(res.Outcome)), zap.Int("index", res.Index))
	writeJSON(w, http.StatusOK, res)
}

// Execute serves POST /plotter/execute. An empty body executes the item at
// the current index.
func (h *Plotter) Execute(w http.ResponseWriter, r *http.Request) {
	var item plan.Item
	ok, err := decodeOptional(r, &item)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if !ok {
		if item, err = h.rt.Current(); err != nil {
			respondWithError(w, r, err)
			return
		}
	}
	ack, err := h.d.ExecuteItem(r.Context(), item)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// ExecuteBatch serves POST /plotter/execute-batch. An empty body executes
// the batch at the current index.
func (h *Plotter) ExecuteBatch(w http.ResponseWriter, r *http.Request) {
	var items []plan.Item
	ok, err := decodeOptional(r, &items)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if !ok {
		if items, err = h.rt.CurrentBatch(); err != nil {
			respondWithError(w, r, err)
			return
		}
	}
	ack, err := h.d.ExecuteBatch(r.Context(), items)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

// decodeOptional decodes a JSON body into v. It reports false for an empty body.
func decodeOptional(r *http.Request, v any) (bool, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPlanBody))
	if err != nil {
		return false, apperrors.NewBadRequest("read request body", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			return false, apperrors.NewBadRequest(fmt.Sprintf("invalid JSON at offset %d", syntax.Offset), err)
		}
		return false, apperrors.NewBadRequest("invalid request body", err)
	}
	return true, nil
}
