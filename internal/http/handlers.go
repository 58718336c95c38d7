package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/example/dispatch-engine/internal/dispatch"
	"github.com/example/dispatch-engine/internal/engine"
	"github.com/example/dispatch-engine/internal/ingest"
	"github.com/example/dispatch-engine/internal/lifecycle"
	"github.com/example/dispatch-engine/internal/models"
	"github.com/example/dispatch-engine/internal/storage"
)

const maxBodyBytes = 1 << 20

type Server struct {
	Engine   *engine.Service
	WSReg    *dispatch.WSRegistry
	logger   zerolog.Logger
	validate *validator.Validate
	mux      *mux.Router
}

func NewServer(svc *engine.Service, ws *dispatch.WSRegistry, logger zerolog.Logger) *Server {
	s := &Server{
		Engine:   svc,
		WSReg:    ws,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/trips", s.handleListTrips).Methods(http.MethodGet)
	api.HandleFunc("/trips/{ref}", s.handleGetTrip).Methods(http.MethodGet)
	api.HandleFunc("/trips/{ref}/status", s.handleChangeStatus).Methods(http.MethodPost)
	api.HandleFunc("/trips/{ref}/assign", s.handleAssign).Methods(http.MethodPost)
	api.HandleFunc("/trips/{ref}/suggestions", s.handleSuggestions).Methods(http.MethodGet)
	api.HandleFunc("/trips/{ref}/pickup-fee", s.handlePickupQuote).Methods(http.MethodGet)
	api.HandleFunc("/drivers", s.handleDrivers).Methods(http.MethodGet)
	api.HandleFunc("/zones", s.handleZones).Methods(http.MethodGet)
	api.HandleFunc("/problems", s.handleProblems).Methods(http.MethodGet)
	api.HandleFunc("/fees/pickup", s.handlePickupFee).Methods(http.MethodGet)

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods(http.MethodPost)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/trips", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type statusRequest struct {
	Status string `json:"status" validate:"required,max=32"`
	Force  bool   `json:"force"`
	Flow   string `json:"flow" validate:"omitempty,oneof=dispatch passenger"`
}

type assignRequest struct {
	DriverID string `json:"driver_id" validate:"required,max=128"`
	Note     string `json:"note" validate:"max=280"`
}

func (s *Server) handleListTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	onlyProblems, err := boolParam(q.Get("problem"))
	if err != nil {
		writeError(w, err)
		return
	}
	f := storage.TripFilter{Zone: q.Get("zone")}
	if raw := q.Get("status"); raw != "" {
		f.Status = lifecycle.Normalize(raw)
	}
	trips, err := s.Engine.ListTrips(r.Context(), f, onlyProblems)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "trips": trips})
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.Engine.Trip(r.Context(), mux.Vars(r)["ref"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "trip": t})
}

func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts := lifecycle.Options{Force: req.Force, Flow: lifecycle.ParseFlow(req.Flow)}
	t, err := s.Engine.ChangeStatus(r.Context(), mux.Vars(r)["ref"], req.Status, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": t.Status})
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !s.decode(w, r, &req) {
		return
	}
	a, err := s.Engine.AssignDriver(r.Context(), mux.Vars(r)["ref"], req.DriverID, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "assign": a})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	force, err := boolParam(r.URL.Query().Get("force"))
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.Engine.Suggestions(r.Context(), mux.Vars(r)["ref"], force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mode": res.Mode, "note": res.Note, "suggestions": res.Suggestions})
}

func (s *Server) handlePickupQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.Engine.PickupQuote(r.Context(), mux.Vars(r)["ref"], r.URL.Query().Get("driver_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "quote": q})
}

func (s *Server) handleDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := s.Engine.Drivers(r.Context(), r.URL.Query().Get("zone"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "drivers": drivers})
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	zones, err := s.Engine.Zones(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "zones": zones})
}

func (s *Server) handleProblems(w http.ResponseWriter, r *http.Request) {
	flags, err := s.Engine.Problems(r.Context(), storage.TripFilter{Zone: r.URL.Query().Get("zone")})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(flags), "problems": flags})
}

func (s *Server) handlePickupFee(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("km"))
	km, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeError(w, badRequest("km must be a number"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "fee": s.Engine.Fares.Fee(km)})
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}
	raw, err := ingest.DecodeObject(body)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.Engine.IngestLocation(r.Context(), raw); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

// handleWS subscribes a console to trip events. The read loop only detects
// the peer going away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.requestLogger(r).Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	id := uuid.NewString()
	s.WSReg.Add(id, conn)
	s.requestLogger(r).Debug().Str("session", id).Int("sessions", s.WSReg.Len()).Msg("console subscribed")
	go func() {
		defer s.WSReg.Remove(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, badRequest("malformed JSON body"))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, badRequest(validationMessage(err)))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

func boolParam(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest("expected a boolean, got " + strconv.Quote(raw))
	}
	return v, nil
}

type apiError struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func badRequest(msg string) error {
	return &wrapped{msg: msg, err: models.ErrBadRequest}
}

type wrapped struct {
	msg string
	err error
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.err }

func writeError(w http.ResponseWriter, err error) {
	code := models.Code(err)
	writeJSON(w, statusFor(code), apiError{OK: false, Code: code, Message: err.Error()})
}

func statusFor(code string) int {
	switch code {
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeInvalidTransition:
		return http.StatusConflict
	case models.CodeInvalidStatus:
		return http.StatusUnprocessableEntity
	case models.CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
