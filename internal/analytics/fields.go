package analytics

import (
	"encoding/base64"
	"errors"
	"math"
	"strings"

	"github.com/lorawan-server/lorawan-analytics/internal/models"
	"github.com/lorawan-server/lorawan-analytics/pkg/lorawan"
)

// Spreading factor bounds of a LoRa modulation.
const (
	MinSpreadingFactor = 7
	MaxSpreadingFactor = 12
)

var errInvalidPayloadEncoding = errors.New("raw payload is not valid base64")

// Resolver extracts modulation parameters from frames. The band plan is used
// only when a frame reports a DR index in place of a spreading factor.
type Resolver struct {
	plan lorawan.BandPlan
}

// NewResolver creates a resolver decoding DR indices with plan.
func NewResolver(plan lorawan.BandPlan) *Resolver {
	return &Resolver{plan: plan}
}

var defaultResolver = NewResolver(lorawan.DefaultBandPlan)

// SpreadingFactor resolves the spreading factor of f. Values outside 7..12
// are decoded as a regional DR index.
func (r *Resolver) SpreadingFactor(f *models.Frame) (int, bool) {
	v, ok := firstDefined(f, func(d models.DataRateFields) *float64 { return d.SpreadingFactor })
	if !ok || v != math.Trunc(v) {
		return 0, false
	}
	sf := int(v)
	if sf >= MinSpreadingFactor && sf <= MaxSpreadingFactor {
		return sf, true
	}

	freq, hasFreq := frequency(f)
	bw, hasBW := r.Bandwidth(f)
	return r.plan.SpreadingFactorForDR(sf, freq, hasFreq, bw, hasBW)
}

// Bandwidth resolves the channel bandwidth of f in Hz.
func (r *Resolver) Bandwidth(f *models.Frame) (int, bool) {
	v, ok := firstDefined(f, func(d models.DataRateFields) *float64 { return d.Bandwidth })
	if !ok || v != math.Trunc(v) || v <= 0 {
		return 0, false
	}
	return int(v), true
}

// PayloadSize returns the byte length of the raw payload of f. A missing or
// malformed payload counts as zero bytes.
func (r *Resolver) PayloadSize(f *models.Frame) int {
	n, _ := payloadSize(f)
	return n
}

// firstDefined returns the first defined value of a data-rate field, checking the
// nested shape before the flat one.
func firstDefined(f *models.Frame, field func(models.DataRateFields) *float64) (float64, bool) {
	if f.DataRate == nil {
		return 0, false
	}
	if f.DataRate.Nested != nil {
		if v := field(*f.DataRate.Nested); v != nil {
			return *v, true
		}
	}
	if v := field(f.DataRate.Flat); v != nil {
		return *v, true
	}
	return 0, false
}

// frequency treats a non-positive value as unknown.
func frequency(f *models.Frame) (float64, bool) {
	if f.Frequency == nil || *f.Frequency <= 0 {
		return 0, false
	}
	return *f.Frequency, true
}

func payloadSize(f *models.Frame) (int, error) {
	if f.RawPayload == nil || *f.RawPayload == "" {
		return 0, nil
	}
	stripped := strings.TrimRight(*f.RawPayload, "=")
	if !isBase64(stripped) {
		return 0, errInvalidPayloadEncoding
	}
	return len(stripped) * 3 / 4, nil
}

func isBase64(s string) bool {
	if _, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return true
	}
	_, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil
}

// resolvedFrame caches everything derived from one frame so each analyzer
// works from the same resolution.
type resolvedFrame struct {
	index        int
	frame        *models.Frame
	sf           int
	hasSF        bool
	bandwidth    int
	hasBandwidth bool
	payloadBytes int
	airtimeMs    float64
	hasAirtime   bool
}

func (r *Resolver) resolve(i int, f *models.Frame, diag *diagnostics) resolvedFrame {
	rf := resolvedFrame{index: i, frame: f}
	rf.sf, rf.hasSF = r.SpreadingFactor(f)
	rf.bandwidth, rf.hasBandwidth = r.Bandwidth(f)

	n, err := payloadSize(f)
	if err != nil {
		diag.add(i, f, CodeInvalidPayloadEncoding, err.Error())
	}
	rf.payloadBytes = n

	if !rf.hasSF {
		if _, present := firstDefined(f, func(d models.DataRateFields) *float64 { return d.SpreadingFactor }); present {
			diag.add(i, f, CodeUnresolvedSpreadingFactor, "spreading factor or DR index could not be decoded")
		}
	}
	if !rf.hasBandwidth {
		if _, present := firstDefined(f, func(d models.DataRateFields) *float64 { return d.Bandwidth }); present {
			diag.add(i, f, CodeUnresolvedBandwidth, "bandwidth is not a positive integer")
		}
	}

	if rf.hasSF && rf.hasBandwidth {
		ms, err := Airtime(DefaultAirtimeParams(rf.sf, rf.bandwidth, rf.payloadBytes))
		switch {
		case errors.Is(err, ErrInvalidSpreadingFactor):
			diag.add(i, f, CodeInvalidSpreadingFactor, err.Error())
		case errors.Is(err, ErrInvalidBandwidth):
			diag.add(i, f, CodeInvalidBandwidth, err.Error())
		default:
			rf.airtimeMs, rf.hasAirtime = ms, true
		}
	}
	return rf
}

func (r *Resolver) resolveAll(frames []models.Frame, diag *diagnostics) []resolvedFrame {
	out := make([]resolvedFrame, len(frames))
	for i := range frames {
		out[i] = r.resolve(i, &frames[i], diag)
	}
	return out
}
