package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/BTreeMap/CarPulse/internal/chart"
	"github.com/BTreeMap/CarPulse/internal/models"
	"github.com/BTreeMap/CarPulse/internal/store"
)

// VehicleView is a vehicle together with its period-aligned price series.
type VehicleView struct {
	models.Vehicle
	Prices []int `json:"prices"`
}

// VehicleRequest is the body of PUT /vehicles/{name}.
type VehicleRequest struct {
	Price       int    `json:"price"`
	Horsepower  int    `json:"horsepower"`
	FuelEconomy string `json:"fuel_economy"`
	Year        int    `json:"year"`
	EngineType  string `json:"engine_type"`
	Country     string `json:"country"`
	Prices      []int  `json:"prices,omitempty"`
}

// ParseWindow parses a window query value: empty or "all" for every period,
// otherwise a non-negative number of trailing periods.
func ParseWindow(raw string) (models.Window, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return models.AllPeriods, nil
	}
	k, err := strconv.Atoi(raw)
	if err != nil {
		return models.Window{}, models.ErrInvalidWindow
	}
	return models.LastPeriods(k)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	catalog, _ := s.catalog.Snapshot()
	status := map[string]interface{}{
		"status":   "healthy",
		"vehicles": catalog.Len(),
		"periods":  s.catalog.Periods().Labels(),
	}
	if s.opts.Sessions != nil {
		n, err := s.opts.Sessions.CountSessions(r.Context())
		if err != nil {
			slog.Error("Server.healthHandler: session count failed", "error", err)
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Session store unavailable"))
			return
		}
		status["sessions"] = n
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

func (s *Server) vehiclesHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.vehiclesHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	catalog, history := s.catalog.Snapshot()
	views := make([]VehicleView, 0, catalog.Len())
	for _, v := range catalog.Vehicles() {
		views = append(views, VehicleView{Vehicle: v, Prices: history[v.Name]})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(views))
}

// vehicleHandler serves /vehicles/{name}.
func (s *Server) vehicleHandler(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(strings.TrimPrefix(r.URL.EscapedPath(), "/vehicles/"))
	if err != nil || strings.TrimSpace(name) == "" || strings.Contains(name, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown vehicle endpoint"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getVehicle(w, name)
	case http.MethodPut:
		s.putVehicle(w, r, name)
	default:
		methodNotAllowed(w, "GET, PUT")
	}
}

func (s *Server) getVehicle(w http.ResponseWriter, name string) {
	catalog, history := s.catalog.Snapshot()
	v, ok := catalog.Get(name)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Vehicle not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(VehicleView{Vehicle: v, Prices: history[name]}))
}

func (s *Server) putVehicle(w http.ResponseWriter, r *http.Request, name string) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req VehicleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.putVehicle: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	v := models.Vehicle{
		Name:        name,
		Price:       req.Price,
		Horsepower:  req.Horsepower,
		FuelEconomy: req.FuelEconomy,
		Year:        req.Year,
		EngineType:  req.EngineType,
		Country:     req.Country,
	}
	if err := s.catalog.Upsert(v, req.Prices); err != nil {
		var perr *store.PersistenceError
		if errors.As(err, &perr) {
			slog.Error("Server.putVehicle: catalog not persisted", "error", err, "vehicle", name)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save catalog"))
			return
		}
		slog.Warn("Server.putVehicle: validation failed", "error", err, "vehicle", name)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	catalog, history := s.catalog.Snapshot()
	saved, _ := catalog.Get(name)
	slog.Info("Server.putVehicle: vehicle saved", "vehicle", name)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Vehicle saved", VehicleView{Vehicle: saved, Prices: history[name]}))
}

// chartHandler serves GET /chart?vehicle=A&vehicle=B&window=3.
func (s *Server) chartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	query := r.URL.Query()
	names := query["vehicle"]
	window, err := ParseWindow(query.Get("window"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid window"))
		return
	}

	image, err := s.renderer.Render(names, window)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, chart.ErrNoVehicles), errors.Is(err, models.ErrInvalidWindow):
			status = http.StatusBadRequest
		case errors.Is(err, models.ErrUnknownVehicle):
			status = http.StatusNotFound
		case errors.Is(err, models.ErrSeriesMismatch):
			status = http.StatusUnprocessableEntity
		}
		slog.Warn("Server.chartHandler: render failed", "error", err, "vehicles", names, "status", status)
		writeJSONResponse(w, status, models.Error(err.Error()))
		return
	}
	writePNG(w, chart.Filename(names), image)
}

// mediaHandler serves GET /media/{id}.
func (s *Server) mediaHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, "GET, HEAD")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, mediaPathPrefix)
	image, filename, ok := s.opts.Media.Get(id)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Media not found"))
		return
	}
	writePNG(w, filename, image)
}
