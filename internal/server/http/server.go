// Package httpserver exposes the control API for managing the stress
// harness: lifecycle verbs, worker management, pool registration, drains,
// budget queries, and health.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/poolforge/stresslab/config"
	"github.com/poolforge/stresslab/internal/budget"
	"github.com/poolforge/stresslab/internal/chain"
	"github.com/poolforge/stresslab/internal/drain"
	"github.com/poolforge/stresslab/internal/engine"
	"github.com/poolforge/stresslab/internal/lifecycle"
	"github.com/poolforge/stresslab/internal/pool"
	"github.com/poolforge/stresslab/internal/ratio"
	"github.com/poolforge/stresslab/internal/worker"
	"github.com/poolforge/stresslab/lib/async"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	workersPath        = "/api/workers"
	workerDetailPrefix = workersPath + "/"

	poolsPath       = "/api/pools"
	budgetPath      = "/api/budget"
	healthPath      = "/api/health"
	lifecyclePrefix = "/api/lifecycle/"
	openAPISpecPath = "/api/docs/openapi.json"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	environment config.Environment
	controller  *lifecycle.Controller
	drains      *async.Pool
}

// NewHandler builds the control API handler. The drains pool bounds how many
// drain operations may run concurrently; a nil pool runs drains inline.
func NewHandler(environment config.Environment, controller *lifecycle.Controller, drains *async.Pool) http.Handler {
	server := &httpServer{environment: environment, controller: controller, drains: drains}
	mux := http.NewServeMux()

	mux.Handle(workersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.listWorkers,
		http.MethodPost: server.createWorker,
	}))
	mux.Handle(workerDetailPrefix, http.HandlerFunc(server.handleWorker))

	mux.Handle(poolsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.listPools,
		http.MethodPost: server.registerPool,
	}))

	mux.Handle(budgetPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getBudget,
	}))

	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getHealth,
	}))

	mux.Handle(lifecyclePrefix, http.HandlerFunc(server.handleLifecycle))

	if environment == config.EnvDev {
		mux.Handle(openAPISpecPath, http.HandlerFunc(server.serveOpenAPISpec))
	}

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

// engine returns the live engine or reports 503 when the service is stopped.
func (s *httpServer) engine(w http.ResponseWriter) *engine.Engine {
	eng := s.controller.Engine()
	if eng == nil {
		writeError(w, http.StatusServiceUnavailable, "service not started")
		return nil
	}
	return eng
}

type workerPayload struct {
	Kind           string `json:"kind"`
	PoolID         string `json:"pool"`
	TokenSide      string `json:"tokenSide"`
	SwapDirection  string `json:"direction"`
	Amount         uint64 `json:"amount"`
	InitialFunding uint64 `json:"initialFunding"`
	AutoRefill     bool   `json:"autoRefill"`
	ShareOutput    bool   `json:"shareOutput"`
	AutoStart      bool   `json:"autoStart"`
}

type workerView struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	PoolID          string `json:"pool"`
	TokenSide       string `json:"tokenSide,omitempty"`
	SwapDirection   string `json:"direction,omitempty"`
	Amount          uint64 `json:"amount"`
	AutoRefill      bool   `json:"autoRefill"`
	ShareOutput     bool   `json:"shareOutput"`
	Wallet          string `json:"wallet"`
	Status          string `json:"status"`
	CreatedAt       string `json:"createdAt"`
	Succeeded       uint64 `json:"succeeded"`
	Failed          uint64 `json:"failed"`
	VolumeProcessed string `json:"volumeProcessed"`
	LastOperationAt string `json:"lastOperationAt,omitempty"`
	LastError       string `json:"lastError,omitempty"`
}

func viewFromDetail(d worker.Detail) workerView {
	view := workerView{
		ID:              d.Config.ID,
		Kind:            string(d.Config.Kind),
		PoolID:          d.Config.PoolID,
		TokenSide:       string(d.Config.TokenSide),
		SwapDirection:   string(d.Config.SwapDirection),
		Amount:          d.Config.Amount,
		AutoRefill:      d.Config.AutoRefill,
		ShareOutput:     d.Config.ShareOutput,
		Wallet:          d.Config.Wallet.Address,
		Status:          string(d.Status),
		CreatedAt:       d.Config.CreatedAt.UTC().Format(timeLayout),
		Succeeded:       d.Statistics.Succeeded,
		Failed:          d.Statistics.Failed,
		VolumeProcessed: d.Statistics.VolumeProcessed.String(),
		LastError:       d.Statistics.LastError,
	}
	if !d.Statistics.LastOperationAt.IsZero() {
		view.LastOperationAt = d.Statistics.LastOperationAt.UTC().Format(timeLayout)
	}
	return view
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func (s *httpServer) listWorkers(w http.ResponseWriter, _ *http.Request) {
	eng := s.engine(w)
	if eng == nil {
		return
	}
	details := eng.Workers().List()
	views := make([]workerView, 0, len(details))
	for _, detail := range details {
		views = append(views, viewFromDetail(detail))
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": views})
}

func (s *httpServer) createWorker(w http.ResponseWriter, r *http.Request) {
	eng := s.engine(w)
	if eng == nil {
		return
	}
	limitRequestBody(w, r)
	payload, err := decodeWorkerPayload(r)
	if err != nil {
		writeDecodeError(w, err)
		return
	}
	spec := worker.Spec{
		Kind:           worker.Kind(strings.ToLower(strings.TrimSpace(payload.Kind))),
		PoolID:         strings.TrimSpace(payload.PoolID),
		TokenSide:      chainTokenSide(payload.TokenSide),
		SwapDirection:  chainSwapDirection(payload.SwapDirection),
		Amount:         payload.Amount,
		InitialFunding: payload.InitialFunding,
		AutoRefill:     payload.AutoRefill,
		ShareOutput:    payload.ShareOutput,
	}
	cfg, err := eng.Workers().Create(r.Context(), spec)
	if err != nil {
		s.writeWorkerError(w, err)
		return
	}
	if payload.AutoStart {
		if err := eng.Workers().Start(r.Context(), cfg.ID); err != nil {
			s.writeWorkerError(w, err)
			return
		}
	}
	s.writeWorkerDetail(w, eng, cfg.ID, http.StatusCreated)
}

func (s *httpServer) handleWorker(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, workerDetailPrefix), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "worker id required")
		return
	}

	id, action, hasAction := strings.Cut(rest, "/")
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusNotFound, "worker id required")
		return
	}

	if !hasAction {
		s.handleWorkerResource(w, r, id)
		return
	}
	s.handleWorkerAction(w, r, id, strings.TrimSpace(action))
}

func (s *httpServer) handleWorkerResource(w http.ResponseWriter, r *http.Request, id string) {
	eng := s.engine(w)
	if eng == nil {
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.writeWorkerDetail(w, eng, id, http.StatusOK)
	case http.MethodDelete:
		drainFirst := parseBoolQuery(r, "drain")
		if err := eng.Workers().Delete(r.Context(), id, drainFirst); err != nil {
			s.writeWorkerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "id": id})
	default:
		methodNotAllowed(w, http.MethodDelete, http.MethodGet)
	}
}

func (s *httpServer) handleWorkerAction(w http.ResponseWriter, r *http.Request, id, action string) {
	eng := s.engine(w)
	if eng == nil {
		return
	}
	if action == "errors" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.listWorkerErrors(w, r, eng, id)
		return
	}

	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	switch action {
	case "start":
		if err := eng.Workers().Start(r.Context(), id); err != nil {
			s.writeWorkerError(w, err)
			return
		}
	case "stop":
		if err := eng.Workers().Stop(r.Context(), id); err != nil {
			s.writeWorkerError(w, err)
			return
		}
	case "drain":
		s.drainWorker(w, r, eng, id)
		return
	default:
		writeError(w, http.StatusNotFound, "unsupported action")
		return
	}
	s.writeWorkerDetail(w, eng, id, http.StatusOK)
}

func (s *httpServer) listWorkerErrors(w http.ResponseWriter, r *http.Request, eng *engine.Engine, id string) {
	if !eng.Workers().HasWorker(id) {
		writeError(w, http.StatusNotFound, worker.ErrWorkerNotFound.Error())
		return
	}
	records, err := eng.Store().LoadErrors(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": records})
}

// drainWorker runs the burn-first drain protocol without removing the
// worker. Execution goes through the bounded drain pool so a flood of drain
// requests gets backpressure rather than unbounded chain traffic.
func (s *httpServer) drainWorker(w http.ResponseWriter, r *http.Request, eng *engine.Engine, id string) {
	cfg, err := eng.Workers().Config(id)
	if err != nil {
		s.writeWorkerError(w, err)
		return
	}
	if status, err := eng.Workers().Status(id); err == nil && status == worker.StatusRunning {
		writeError(w, http.StatusConflict, "worker must be stopped before draining")
		return
	}

	run := func() (drain.Result, error) {
		return eng.Drainer().Execute(r.Context(), cfg)
	}

	if s.drains == nil {
		result, err := run()
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	type outcome struct {
		result drain.Result
		err    error
	}
	wait := make(chan outcome, 1)
	submitErr := s.drains.Submit(r.Context(), func(context.Context) error {
		result, err := run()
		wait <- outcome{result: result, err: err}
		return err
	})
	if submitErr != nil {
		writeError(w, http.StatusServiceUnavailable, submitErr.Error())
		return
	}
	select {
	case <-r.Context().Done():
		writeError(w, http.StatusRequestTimeout, r.Context().Err().Error())
	case got := <-wait:
		if got.err != nil {
			writeError(w, http.StatusBadGateway, got.err.Error())
			return
		}
		writeJSON(w, http.StatusOK, got.result)
	}
}

func (s *httpServer) writeWorkerDetail(w http.ResponseWriter, eng *engine.Engine, id string, status int) {
	cfg, err := eng.Workers().Config(id)
	if err != nil {
		s.writeWorkerError(w, err)
		return
	}
	workerStatus, _ := eng.Workers().Status(id)
	stats, _ := eng.Workers().Statistics(id)
	writeJSON(w, status, viewFromDetail(worker.Detail{Config: cfg, Status: workerStatus, Statistics: stats}))
}

type poolPayload struct {
	TokenA    string `json:"tokenA"`
	TokenB    string `json:"tokenB"`
	RatioA    uint64 `json:"ratioA"`
	RatioB    uint64 `json:"ratioB"`
	DecimalsA uint8  `json:"decimalsA"`
	DecimalsB uint8  `json:"decimalsB"`
}

func (s *httpServer) listPools(w http.ResponseWriter, _ *http.Request) {
	eng := s.engine(w)
	if eng == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": eng.Pools()})
}

func (s *httpServer) registerPool(w http.ResponseWriter, r *http.Request) {
	eng := s.engine(w)
	if eng == nil {
		return
	}
	limitRequestBody(w, r)
	var payload poolPayload
	if err := decodeBody(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	cfg, err := ratio.Normalize(payload.TokenA, payload.TokenB, payload.RatioA, payload.RatioB)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	canonical, err := eng.RegisterPool(r.Context(), cfg, payload.DecimalsA, payload.DecimalsB)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, canonical)
}

func (s *httpServer) getBudget(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	operation := strings.TrimSpace(query.Get("operation"))
	if operation == "" {
		writeError(w, http.StatusBadRequest, "operation required")
		return
	}
	bctx := budget.Context{}
	if raw := strings.TrimSpace(query.Get("poolCount")); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil || count < 0 {
			writeError(w, http.StatusBadRequest, "poolCount must be a non-negative integer")
			return
		}
		bctx.PoolCount = count
	}
	if raw := strings.TrimSpace(query.Get("donationAmount")); raw != "" {
		amount, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "donationAmount must be a non-negative integer")
			return
		}
		bctx.DonationAmount = amount
	}
	units := budget.GetBudget(operation, bctx)
	writeJSON(w, http.StatusOK, map[string]any{"operation": operation, "units": units})
}

func (s *httpServer) getHealth(w http.ResponseWriter, r *http.Request) {
	health := s.controller.GetHealth(r.Context())
	status := http.StatusOK
	if !health.IsHealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"state":   string(health.State),
		"healthy": health.IsHealthy,
		"engine": map[string]any{
			"chainOk":  health.Engine.ChainOK,
			"workers":  health.Engine.WorkerCount,
			"running":  health.Engine.Running,
			"failed":   health.Engine.Failed,
			"degraded": health.Engine.Degraded,
		},
	})
}

func (s *httpServer) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	verb := strings.Trim(strings.TrimPrefix(r.URL.Path, lifecyclePrefix), "/")
	var err error
	switch verb {
	case "start":
		err = s.controller.Start(r.Context())
	case "stop":
		err = s.controller.Stop(r.Context())
	case "pause":
		err = s.controller.Pause(r.Context())
	case "resume":
		err = s.controller.Resume(r.Context())
	default:
		writeError(w, http.StatusNotFound, "unsupported lifecycle verb")
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": string(s.controller.State())})
}

func (s *httpServer) writeWorkerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, worker.ErrWorkerExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, worker.ErrWorkerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, worker.ErrWorkerRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, worker.ErrWorkerNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func chainTokenSide(raw string) chain.TokenSide {
	return chain.TokenSide(strings.ToLower(strings.TrimSpace(raw)))
}

func chainSwapDirection(raw string) chain.SwapDirection {
	return chain.SwapDirection(strings.ToLower(strings.TrimSpace(raw)))
}

func decodeWorkerPayload(r *http.Request) (workerPayload, error) {
	var payload workerPayload
	err := decodeBody(r, &payload)
	return payload, err
}

func decodeBody(r *http.Request, v any) error {
	defer func() {
		_ = r.Body.Close()
	}()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func parseBoolQuery(r *http.Request, key string) bool {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	return err == nil && value
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := pool.EncodeJSON(payload)
	if err != nil {
		http.Error(w, `{"status":"error","error":"response encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
