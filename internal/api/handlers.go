package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-analytics/internal/analytics"
	"github.com/lorawan-server/lorawan-analytics/internal/metrics"
	"github.com/lorawan-server/lorawan-analytics/internal/server"
	"github.com/lorawan-server/lorawan-analytics/internal/upstream"
)

const defaultWindow = "24h"

// AirtimeRequest is the body of POST /airtime. Unset options take the
// LoRaWAN defaults: coding rate 4/5, 8 preamble symbols, implicit header and
// CRC on.
type AirtimeRequest struct {
	SpreadingFactor int      `json:"spreadingFactor" validate:"required,gte=7,lte=12"`
	Bandwidth       int      `json:"bandwidth" validate:"required,gt=0"`
	PayloadBytes    int      `json:"payloadBytes" validate:"gte=0,lte=255"`
	CodingRate      *int     `json:"codingRate" validate:"gte=1,lte=4"`
	PreambleSymbols *int     `json:"preambleSymbols" validate:"gte=0,lte=65535"`
	ExplicitHeader  *bool    `json:"explicitHeader"`
	CRCEnabled      *bool    `json:"crcEnabled"`
	TxCurrentMa     *float64 `json:"txCurrentMa" validate:"gt=0,lte=1000"`
}

func (a AirtimeRequest) params() analytics.AirtimeParams {
	p := analytics.DefaultAirtimeParams(a.SpreadingFactor, a.Bandwidth, a.PayloadBytes)
	if a.CodingRate != nil {
		p.CodingRate = *a.CodingRate
	}
	if a.PreambleSymbols != nil {
		p.PreambleSymbols = *a.PreambleSymbols
	}
	if a.ExplicitHeader != nil {
		p.ExplicitHeader = *a.ExplicitHeader
	}
	if a.CRCEnabled != nil {
		p.CRCEnabled = *a.CRCEnabled
	}
	return p
}

// AirtimeResponse is the result of POST /airtime.
type AirtimeResponse struct {
	Params      analytics.AirtimeParams `json:"params"`
	AirtimeMs   float64                 `json:"airtimeMs"`
	TxCurrentMa float64                 `json:"txCurrentMa"`
	EnergyMah   float64                 `json:"energyMah"`
}

// HandleAnalyze computes a bundle for the frames in the request body.
func (s *RESTServer) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	req, err := s.service.ParseRequest(body)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, s.service.Analyze(req, metrics.SourceREST))
}

// HandleAirtime computes the time on air of a single transmission.
func (s *RESTServer) HandleAirtime(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var req AirtimeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := req.params()
	airtime, err := analytics.Airtime(p)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	current := s.config.Energy.TxCurrentMa
	if req.TxCurrentMa != nil {
		current = *req.TxCurrentMa
	}

	s.respondJSON(w, http.StatusOK, AirtimeResponse{
		Params:      p,
		AirtimeMs:   airtime,
		TxCurrentMa: current,
		EnergyMah:   analytics.EnergyMah(airtime, current),
	})
}

// HandleDeviceAnalytics queries the frames of one device from the upstream
// store and computes their bundle. The window is chosen with one of last,
// since or start and end; it defaults to the last 24 hours.
func (s *RESTServer) HandleDeviceAnalytics(w http.ResponseWriter, r *http.Request) {
	devEUI := chi.URLParam(r, "dev_eui")
	q := r.URL.Query()
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		log.Debug().Str("subject", claims.Subject).Str("dev_eui", devEUI).Msg("Device analytics requested")
	}

	window, err := parseWindow(q.Get("last"), q.Get("since"), q.Get("start"), q.Get("end"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	energy, err := s.energyFromQuery(q.Get("txCurrentMa"), q.Get("voltage"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := s.service.AnalyzeDevice(r.Context(), devEUI, window, energy)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, b)
}

func parseWindow(last, since, start, end string) (upstream.Window, error) {
	var window upstream.Window
	switch {
	case last != "":
		window.Last = last
	case start != "" || end != "":
		var err error
		if window.Start, err = time.Parse(time.RFC3339, start); err != nil {
			return window, errors.New("start must be an RFC3339 time")
		}
		if window.End, err = time.Parse(time.RFC3339, end); err != nil {
			return window, errors.New("end must be an RFC3339 time")
		}
	case since != "":
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return window, errors.New("since must be an RFC3339 time")
		}
		window.Since = t
	default:
		window.Last = defaultWindow
	}
	return window, nil
}

func (s *RESTServer) energyFromQuery(current, voltage string) (*analytics.EnergyConfig, error) {
	if current == "" && voltage == "" {
		return nil, nil
	}
	cfg := analytics.EnergyConfig{TxCurrentMa: s.config.Energy.TxCurrentMa, Voltage: s.config.Energy.Voltage}
	if current != "" {
		v, err := strconv.ParseFloat(current, 64)
		if err != nil || v <= 0 {
			return nil, errors.New("txCurrentMa must be a positive number")
		}
		cfg.TxCurrentMa = v
	}
	if voltage != "" {
		v, err := strconv.ParseFloat(voltage, 64)
		if err != nil || v <= 0 {
			return nil, errors.New("voltage must be a positive number")
		}
		cfg.Voltage = v
	}
	return &cfg, nil
}

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":      s.config.Server.Name,
		"version":      s.config.Server.Version,
		"health":       "/api/v1/health",
		"analytics":    "/api/v1/analytics",
		"airtime":      "/api/v1/airtime",
		"maxFrames":    s.service.MaxFrames(),
		"authRequired": s.auth != nil,
	})
}

// readBody reads the request body up to the configured limit.
func (s *RESTServer) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.API.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

// respondServiceError maps service and upstream errors to HTTP statuses.
func (s *RESTServer) respondServiceError(w http.ResponseWriter, err error) {
	var statusErr *upstream.StatusError
	switch {
	case errors.Is(err, server.ErrTooManyFrames):
		s.respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, server.ErrInvalidRequest),
		errors.Is(err, upstream.ErrInvalidWindow),
		errors.Is(err, upstream.ErrInvalidDevEUI):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, server.ErrUpstreamDisabled):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.respondError(w, http.StatusGatewayTimeout, "upstream query timed out")
	case errors.As(err, &statusErr):
		log.Warn().Err(err).Int("status", statusErr.Code).Msg("Upstream query failed")
		s.respondError(w, http.StatusBadGateway, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		s.respondError(w, http.StatusBadGateway, err.Error())
	}
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
