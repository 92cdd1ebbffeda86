package server

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lorawan-server/lorawan-analytics/internal/analytics"
	"github.com/lorawan-server/lorawan-analytics/internal/metrics"
	"github.com/lorawan-server/lorawan-analytics/internal/models"
	"github.com/lorawan-server/lorawan-analytics/internal/upstream"
)

const frameJSON = `{
	"devEui": "0123456789abcdef",
	"receivedAt": "2025-01-01T10:00:00Z",
	"dataRate": {"modulation": "LORA", "lora": {"bandwidth": 125000, "spreadingFactor": 7}},
	"frequency": 868100000,
	"rxInfo": [{"gatewayId": "gw-1", "rssi": -80, "snr": 7}],
	"rawPayload": "AAAAAAAAAAAAAAAAAAAAAAAAAAA="
}`

type recordingPublisher struct {
	devEUIs []string
	err     error
}

func (p *recordingPublisher) PublishBundle(devEUI string, b *analytics.Bundle) error {
	p.devEUIs = append(p.devEUIs, devEUI)
	return p.err
}

type fakeSource struct {
	frames []models.Frame
	err    error
	window upstream.Window
}

func (s *fakeSource) QueryFrames(ctx context.Context, devEUI string, w upstream.Window) ([]models.Frame, []models.DecodeError, error) {
	s.window = w
	return s.frames, nil, s.err
}

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	return NewService(analytics.NewPipeline(analytics.WithLogger(logger)), analytics.DefaultEnergyConfig(), 3, logger, opts...)
}

func assertMetric(t *testing.T, m *metrics.PrometheusMetrics, line string) {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), line) {
		t.Errorf("metrics output has no line %q", line)
	}
}

func TestParseRequest_BareArray(t *testing.T) {
	s := newTestService(t)
	req, err := s.ParseRequest([]byte("[" + frameJSON + "," + frameJSON + "]"))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if len(req.Frames) != 2 || req.DevEUI != "" || req.EnergyConfig != nil {
		t.Errorf("request = %+v", req)
	}
}

func TestParseRequest_Envelope(t *testing.T) {
	s := newTestService(t)
	body := `{"devEui": "0123456789abcdef", "frames": [` + frameJSON + `], "energyConfig": {"txCurrentMa": 120}}`
	req, err := s.ParseRequest([]byte(body))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.DevEUI != "0123456789abcdef" || len(req.Frames) != 1 {
		t.Errorf("request = %+v", req)
	}
	if req.EnergyConfig == nil || req.EnergyConfig.TxCurrentMa != 120 || req.EnergyConfig.Voltage != 3.3 {
		t.Errorf("EnergyConfig = %+v, want 120 mA with default voltage", req.EnergyConfig)
	}
}

func TestParseRequest_Errors(t *testing.T) {
	s := newTestService(t)
	tests := []struct {
		name string
		body string
		want error
	}{
		{"empty", "  ", ErrInvalidRequest},
		{"scalar", "42", ErrInvalidRequest},
		{"broken json", "[{", ErrInvalidRequest},
		{"envelope without frames", `{"devEui": "01"}`, ErrInvalidRequest},
		{"zero current", `{"frames": [], "energyConfig": {"txCurrentMa": 0}}`, ErrInvalidRequest},
		{"negative voltage", `{"frames": [], "energyConfig": {"voltage": -1}}`, ErrInvalidRequest},
		{"too many frames", "[{},{},{},{}]", ErrTooManyFrames},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.ParseRequest([]byte(tt.body)); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAnalyze_DecodeErrorsBecomeWarnings(t *testing.T) {
	s := newTestService(t)
	req, err := s.ParseRequest([]byte(`[` + frameJSON + `, {"devEui": 5}]`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}

	b := s.Analyze(req, metrics.SourceREST)
	if b.TotalFrames != 1 {
		t.Errorf("TotalFrames = %d, want 1", b.TotalFrames)
	}
	if len(b.Warnings) == 0 || b.Warnings[0].Code != CodeInvalidFrame || b.Warnings[0].FrameIndex != 1 {
		t.Errorf("warnings = %+v", b.Warnings)
	}
}

func TestAnalyze_WarningsUseRequestPositions(t *testing.T) {
	s := newTestService(t)
	body := `[` + frameJSON + `, {"devEui": 5}, {"devEui": "late", "receivedAt": "nope"}]`
	req, err := s.ParseRequest([]byte(body))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}

	b := s.Analyze(req, metrics.SourceREST)
	got := make(map[string]int)
	for _, w := range b.Warnings {
		got[w.Code] = w.FrameIndex
	}
	if got[CodeInvalidFrame] != 1 {
		t.Errorf("invalid_frame index = %d, want 1", got[CodeInvalidFrame])
	}
	if idx, ok := got[analytics.CodeInvalidTimestamp]; !ok || idx != 2 {
		t.Errorf("invalid_timestamp index = %d (present %v), want 2", idx, ok)
	}
	for i := 1; i < len(b.Warnings); i++ {
		if b.Warnings[i].FrameIndex < b.Warnings[i-1].FrameIndex {
			t.Errorf("warnings not ordered by frame index: %+v", b.Warnings)
		}
	}
}

func TestRequestPositions(t *testing.T) {
	rejected := []models.DecodeError{{Index: 0}, {Index: 2}, {Index: 3}}
	got := requestPositions(3, rejected)
	want := []int{1, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("positions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("positions = %v, want %v", got, want)
			break
		}
	}
}

func TestAnalyze_PublishesKnownDevices(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	m := metrics.NewPrometheusMetrics()
	s := newTestService(t, WithPublisher(pub), WithMetrics(m))

	s.Analyze(&Request{}, metrics.SourceREST)
	b := s.Analyze(&Request{DevEUI: "0123456789abcdef"}, metrics.SourceREST)

	if len(pub.devEUIs) != 1 || pub.devEUIs[0] != "0123456789abcdef" {
		t.Errorf("published = %v", pub.devEUIs)
	}
	if b == nil {
		t.Fatal("a publish failure must not drop the bundle")
	}
	assertMetric(t, m, `lorawan_analytics_pipeline_runs_total{source="rest"} 2`)
}

func TestAnalyzeDevice(t *testing.T) {
	frames, _, err := models.DecodeFrames([]byte("[" + frameJSON + "]"))
	if err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{frames: frames}
	m := metrics.NewPrometheusMetrics()
	s := newTestService(t, WithUpstream(src), WithMetrics(m))

	b, err := s.AnalyzeDevice(context.Background(), "0123456789abcdef", upstream.LastWindow("24h"), nil)
	if err != nil {
		t.Fatalf("AnalyzeDevice: %v", err)
	}
	if b.TotalFrames != 1 || src.window.Last != "24h" {
		t.Errorf("bundle frames = %d, window = %+v", b.TotalFrames, src.window)
	}
	assertMetric(t, m, `lorawan_analytics_upstream_requests_total{status="200"} 1`)
}

func TestAnalyzeDevice_Errors(t *testing.T) {
	if _, err := newTestService(t).AnalyzeDevice(context.Background(), "01", upstream.LastWindow("1h"), nil); !errors.Is(err, ErrUpstreamDisabled) {
		t.Errorf("error = %v, want ErrUpstreamDisabled", err)
	}

	m := metrics.NewPrometheusMetrics()
	src := &fakeSource{err: &upstream.StatusError{Code: 401, Message: "bad token"}}
	s := newTestService(t, WithUpstream(src), WithMetrics(m))
	_, err := s.AnalyzeDevice(context.Background(), "01", upstream.LastWindow("1h"), nil)
	if !errors.Is(err, upstream.ErrUpstreamStatus) {
		t.Errorf("error = %v, want ErrUpstreamStatus", err)
	}
	assertMetric(t, m, `lorawan_analytics_upstream_requests_total{status="401"} 1`)
}
