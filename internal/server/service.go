package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/lorawan-server/lorawan-analytics/internal/analytics"
	"github.com/lorawan-server/lorawan-analytics/internal/metrics"
	"github.com/lorawan-server/lorawan-analytics/internal/models"
	"github.com/lorawan-server/lorawan-analytics/internal/upstream"
	"github.com/lorawan-server/lorawan-analytics/internal/validation"
)

// CodeInvalidFrame marks a frame record that could not be decoded at all.
const CodeInvalidFrame = "invalid_frame"

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrTooManyFrames    = errors.New("too many frames")
	ErrUpstreamDisabled = errors.New("upstream query service not configured")
)

// Publisher receives every bundle computed for a known device.
type Publisher interface {
	PublishBundle(devEUI string, b *analytics.Bundle) error
}

// FrameSource fetches the frames of a device.
type FrameSource interface {
	QueryFrames(ctx context.Context, devEUI string, w upstream.Window) ([]models.Frame, []models.DecodeError, error)
}

// Request is a decoded analytics request.
type Request struct {
	DevEUI       string
	Frames       []models.Frame
	EnergyConfig *analytics.EnergyConfig
	DecodeErrors []models.DecodeError
}

// EnergyOverride is the energy section of a request envelope.
type EnergyOverride struct {
	TxCurrentMa *float64 `json:"txCurrentMa" validate:"gt=0,lte=1000"`
	Voltage     *float64 `json:"voltage" validate:"gt=0,lte=48"`
}

type envelope struct {
	DevEUI       string            `json:"devEui"`
	Frames       []json.RawMessage `json:"frames"`
	EnergyConfig *EnergyOverride   `json:"energyConfig"`
}

// Service runs the pipeline for the REST and NATS front ends.
type Service struct {
	pipeline  *analytics.Pipeline
	metrics   *metrics.PrometheusMetrics
	publisher Publisher
	upstream  FrameSource
	validator *validation.Validator
	energy    analytics.EnergyConfig
	maxFrames int
	logger    zerolog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMetrics records pipeline runs on m.
func WithMetrics(m *metrics.PrometheusMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithPublisher publishes bundles of known devices to p.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

// WithUpstream enables device queries against src.
func WithUpstream(src FrameSource) ServiceOption {
	return func(s *Service) { s.upstream = src }
}

// NewService creates a service. energy is used when a request carries no
// energy configuration; maxFrames caps the frames of one request.
func NewService(pipeline *analytics.Pipeline, energy analytics.EnergyConfig, maxFrames int, logger zerolog.Logger, opts ...ServiceOption) *Service {
	if maxFrames <= 0 {
		maxFrames = upstream.DefaultMaxFrames
	}
	s := &Service{
		pipeline:  pipeline,
		validator: validation.NewValidator(),
		energy:    energy,
		maxFrames: maxFrames,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxFrames returns the frame cap of one request.
func (s *Service) MaxFrames() int {
	return s.maxFrames
}

// ParseRequest decodes a bare frame array or an envelope carrying frames and
// an optional energy configuration.
func (s *Service) ParseRequest(data []byte) (*Request, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidRequest)
	}

	var (
		raws []json.RawMessage
		req  Request
	)
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	case '{':
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if env.Frames == nil {
			return nil, fmt.Errorf("%w: frames is required", ErrInvalidRequest)
		}
		raws = env.Frames
		req.DevEUI = env.DevEUI
		if env.EnergyConfig != nil {
			cfg, err := s.energyConfig(env.EnergyConfig)
			if err != nil {
				return nil, err
			}
			req.EnergyConfig = cfg
		}
	default:
		return nil, fmt.Errorf("%w: expected a frame array or an object", ErrInvalidRequest)
	}

	if len(raws) > s.maxFrames {
		return nil, fmt.Errorf("%w: %d frames, limit is %d", ErrTooManyFrames, len(raws), s.maxFrames)
	}
	req.Frames, req.DecodeErrors = models.DecodeFrameList(raws)
	return &req, nil
}

// energyConfig fills fields missing from o with the service defaults.
func (s *Service) energyConfig(o *EnergyOverride) (*analytics.EnergyConfig, error) {
	if err := s.validator.Validate(o); err != nil {
		return nil, fmt.Errorf("%w: energyConfig: %v", ErrInvalidRequest, err)
	}
	cfg := s.energy
	if o.TxCurrentMa != nil {
		cfg.TxCurrentMa = *o.TxCurrentMa
	}
	if o.Voltage != nil {
		cfg.Voltage = *o.Voltage
	}
	return &cfg, nil
}

// Analyze runs the pipeline over req. The bundle is published when the
// request names a device.
func (s *Service) Analyze(req *Request, source string) *analytics.Bundle {
	energy := req.EnergyConfig
	if energy == nil {
		energy = &s.energy
	}

	start := time.Now()
	b := s.pipeline.Run(req.Frames, energy)
	took := time.Since(start)

	if len(req.DecodeErrors) > 0 {
		// Pipeline indices count decoded frames only; report request positions.
		positions := requestPositions(len(req.Frames), req.DecodeErrors)
		for i := range b.Warnings {
			b.Warnings[i].FrameIndex = positions[b.Warnings[i].FrameIndex]
		}
		for _, de := range req.DecodeErrors {
			b.Warnings = append(b.Warnings, analytics.Warning{
				FrameIndex: de.Index,
				Code:       CodeInvalidFrame,
				Message:    de.Err.Error(),
			})
		}
		sort.SliceStable(b.Warnings, func(i, j int) bool {
			return b.Warnings[i].FrameIndex < b.Warnings[j].FrameIndex
		})
	}

	s.metrics.ObservePipeline(source, b, took)
	s.logger.Debug().
		Str("source", source).
		Str("dev_eui", req.DevEUI).
		Int("frames", b.TotalFrames).
		Int("warnings", len(b.Warnings)).
		Dur("took", took).
		Msg("Computed analytics bundle")

	if req.DevEUI != "" && s.publisher != nil {
		if err := s.publisher.PublishBundle(req.DevEUI, b); err != nil {
			s.logger.Error().Err(err).Str("dev_eui", req.DevEUI).Msg("Failed to publish bundle")
		}
	}
	return b
}

// AnalyzeDevice queries the frames of devEUI within w and runs the pipeline.
func (s *Service) AnalyzeDevice(ctx context.Context, devEUI string, w upstream.Window, energy *analytics.EnergyConfig) (*analytics.Bundle, error) {
	if s.upstream == nil {
		return nil, ErrUpstreamDisabled
	}

	frames, decodeErrs, err := s.upstream.QueryFrames(ctx, devEUI, w)
	s.metrics.ObserveUpstream(upstreamStatus(err))
	if err != nil {
		return nil, fmt.Errorf("query frames of %s: %w", devEUI, err)
	}

	return s.Analyze(&Request{
		DevEUI:       devEUI,
		Frames:       frames,
		EnergyConfig: energy,
		DecodeErrors: decodeErrs,
	}, metrics.SourceUpstream), nil
}

// requestPositions maps the index of each decoded frame to its position in
// the original record list. rejected must be ordered by Index.
func requestPositions(decoded int, rejected []models.DecodeError) []int {
	positions := make([]int, 0, decoded)
	next := 0
	for raw := 0; len(positions) < decoded; raw++ {
		if next < len(rejected) && rejected[next].Index == raw {
			next++
			continue
		}
		positions = append(positions, raw)
	}
	return positions
}

func upstreamStatus(err error) int {
	var se *upstream.StatusError
	switch {
	case err == nil:
		return 200
	case errors.As(err, &se):
		return se.Code
	default:
		return 0
	}
}
