// Package analytics derives radio performance metrics from LoRaWAN uplink
// frames. It performs no I/O and keeps no state between runs.
package analytics

import (
	"github.com/rs/zerolog"

	"github.com/lorawan-server/lorawan-analytics/internal/models"
	"github.com/lorawan-server/lorawan-analytics/pkg/lorawan"
)

// Warning codes.
const (
	CodeInvalidSpreadingFactor    = "invalid_spreading_factor"
	CodeInvalidBandwidth          = "invalid_bandwidth"
	CodeUnresolvedSpreadingFactor = "unresolved_spreading_factor"
	CodeUnresolvedBandwidth       = "unresolved_bandwidth"
	CodeInvalidPayloadEncoding    = "invalid_payload_encoding"
	CodeInvalidTimestamp          = "invalid_timestamp"
)

// Warning describes a frame whose contribution to some metric was dropped.
type Warning struct {
	FrameIndex int    `json:"frameIndex"`
	DevEUI     string `json:"devEui,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

type warningKey struct {
	index int
	code  string
}

// diagnostics collects warnings of one run. A nil collector discards them.
type diagnostics struct {
	logger   zerolog.Logger
	warnings []Warning
	seen     map[warningKey]bool
}

func newDiagnostics(logger zerolog.Logger) *diagnostics {
	return &diagnostics{logger: logger, warnings: []Warning{}, seen: make(map[warningKey]bool)}
}

func (d *diagnostics) add(index int, f *models.Frame, code, message string) {
	if d == nil {
		return
	}
	key := warningKey{index, code}
	if d.seen[key] {
		return
	}
	d.seen[key] = true

	d.warnings = append(d.warnings, Warning{FrameIndex: index, DevEUI: f.DevEUI, Code: code, Message: message})
	d.logger.Warn().
		Int("frame", index).
		Str("dev_eui", f.DevEUI).
		Str("code", code).
		Msg(message)
}

// Bundle is the complete metric set of one run.
type Bundle struct {
	TotalFrames                 int                         `json:"totalFrames"`
	SignalQuality               SignalQualityMetrics        `json:"signalQuality"`
	SpreadingFactorDistribution SpreadingFactorDistribution `json:"spreadingFactorDistribution"`
	DominantSpreadingFactor     string                      `json:"dominantSpreadingFactor"`
	FrequencyDistribution       FrequencyDistribution       `json:"frequencyDistribution"`
	Energy                      EnergyMetrics               `json:"energy"`
	TimeSeries                  []TimeSeriesPoint           `json:"timeSeries"`
	Warnings                    []Warning                   `json:"warnings"`
}

// Pipeline runs every analyzer over a frame collection.
type Pipeline struct {
	logger   zerolog.Logger
	resolver *Resolver
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger warnings are written to.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithBandPlan replaces the band plan used to decode DR indices.
func WithBandPlan(plan lorawan.BandPlan) Option {
	return func(p *Pipeline) {
		p.resolver = NewResolver(plan)
	}
}

// NewPipeline creates a pipeline. Without options warnings are only
// collected, not logged.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		logger:   zerolog.Nop(),
		resolver: defaultResolver,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run computes the bundle for frames. A nil energy config selects
// DefaultEnergyConfig(). frames is not modified.
func (p *Pipeline) Run(frames []models.Frame, energy *EnergyConfig) *Bundle {
	cfg := DefaultEnergyConfig()
	if energy != nil {
		cfg = *energy
	}

	diag := newDiagnostics(p.logger)
	resolved := p.resolver.resolveAll(frames, diag)
	sfDist := distributeSpreadingFactors(resolved)

	b := &Bundle{
		TotalFrames:                 len(frames),
		SignalQuality:               AggregateSignal(frames),
		SpreadingFactorDistribution: sfDist,
		DominantSpreadingFactor:     DominantSpreadingFactor(sfDist),
		FrequencyDistribution:       DistributeFrequencies(frames),
		Energy:                      estimateEnergy(resolved, cfg),
		TimeSeries:                  assembleTimeSeries(resolved, diag),
	}
	b.Warnings = diag.warnings
	return b
}
