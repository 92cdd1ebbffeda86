package models

import (
	"encoding/json"
	"testing"
	"time"
)

func mustDecodeFrame(t *testing.T, data string) Frame {
	t.Helper()
	var f Frame
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return f
}

func TestFrame_CamelCase(t *testing.T) {
	f := mustDecodeFrame(t, `{
		"devEui": "0123456789abcdef",
		"receivedAt": "2025-01-01T10:00:00.250Z",
		"fPort": 2,
		"fCnt": 17,
		"dataRate": {"modulation": "LORA", "lora": {"bandwidth": 125000, "spreadingFactor": 9}},
		"frequency": 868100000,
		"rxInfo": [{"gatewayId": "gw-1", "rssi": -87, "snr": 7.5}],
		"rawPayload": "AQID",
		"decodedPayload": {"temperature": 21.5}
	}`)

	if f.DevEUI != "0123456789abcdef" {
		t.Errorf("DevEUI = %q", f.DevEUI)
	}
	want := time.Date(2025, 1, 1, 10, 0, 0, 250_000_000, time.UTC)
	if !f.ReceivedAt.Valid || !f.ReceivedAt.Time.Equal(want) {
		t.Errorf("ReceivedAt = %+v, want %v", f.ReceivedAt, want)
	}
	if f.FPort == nil || *f.FPort != 2 || f.FCnt == nil || *f.FCnt != 17 {
		t.Errorf("FPort/FCnt = %v/%v", f.FPort, f.FCnt)
	}
	if f.DataRate == nil || f.DataRate.Nested == nil {
		t.Fatalf("nested data rate missing: %+v", f.DataRate)
	}
	if *f.DataRate.Nested.SpreadingFactor != 9 || *f.DataRate.Nested.Bandwidth != 125000 {
		t.Errorf("nested = %+v", f.DataRate.Nested)
	}
	if !f.DataRate.Flat.IsZero() {
		t.Errorf("flat shape should be empty, got %+v", f.DataRate.Flat)
	}
	if f.DataRate.Modulation != "LORA" {
		t.Errorf("Modulation = %q", f.DataRate.Modulation)
	}
	if len(f.RXInfo) != 1 || f.RXInfo[0].GatewayID != "gw-1" || *f.RXInfo[0].RSSI != -87 || *f.RXInfo[0].SNR != 7.5 {
		t.Errorf("RXInfo = %+v", f.RXInfo)
	}
	if f.RawPayload == nil || *f.RawPayload != "AQID" {
		t.Errorf("RawPayload = %v", f.RawPayload)
	}
	if string(f.DecodedPayload) != `{"temperature": 21.5}` {
		t.Errorf("DecodedPayload = %s", f.DecodedPayload)
	}
}

func TestFrame_StoreNativeSnakeCase(t *testing.T) {
	f := mustDecodeFrame(t, `{
		"dev_eui": "0123456789ABCDEF",
		"application_id": "app-1",
		"device_name": "sensor",
		"frame_type": "Uplink",
		"received_at": "2025-01-01T10:00:00.123456789Z",
		"f_port": 1,
		"f_cnt": 42,
		"confirmed": false,
		"adr": true,
		"dr": {"modulation": "LORA", "bandwidth": 125000, "spreading_factor": 7, "bitrate": null},
		"frequency": 868300000,
		"rx_info": [{"gateway_id": "gw-2", "rssi": -101, "snr": -3.25, "channel": 1, "rf_chain": 0, "location": null}],
		"decoded_payload": null,
		"raw_payload": "AQIDBA=="
	}`)

	if f.DevEUI != "0123456789ABCDEF" || f.ApplicationID != "app-1" || f.DeviceName != "sensor" || f.FrameType != "Uplink" {
		t.Errorf("identity fields = %+v", f)
	}
	if !f.ReceivedAt.Valid {
		t.Errorf("received_at should parse: %+v", f.ReceivedAt)
	}
	if f.DataRate == nil || f.DataRate.Nested != nil {
		t.Fatalf("expected flat data rate, got %+v", f.DataRate)
	}
	if *f.DataRate.Flat.SpreadingFactor != 7 || *f.DataRate.Flat.Bandwidth != 125000 {
		t.Errorf("flat = %+v", f.DataRate.Flat)
	}
	if len(f.RXInfo) != 1 || f.RXInfo[0].GatewayID != "gw-2" || *f.RXInfo[0].RFChain != 0 {
		t.Errorf("rx_info = %+v", f.RXInfo)
	}
	if f.DecodedPayload != nil {
		t.Errorf("null decoded payload should be nil, got %s", f.DecodedPayload)
	}
}

func TestGatewayReception_LoRaSNRAlias(t *testing.T) {
	var g GatewayReception
	if err := json.Unmarshal([]byte(`{"gatewayId":"gw","rssi":-90,"loRaSNR":4}`), &g); err != nil {
		t.Fatal(err)
	}
	if g.SNR == nil || *g.SNR != 4 {
		t.Errorf("SNR = %v, want 4", g.SNR)
	}
}

func TestTimestamp_Forms(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantMs    int64
	}{
		{"rfc3339", `"2025-01-01T00:00:01Z"`, true, 1735689601000},
		{"offset", `"2025-01-01T01:00:01+01:00"`, true, 1735689601000},
		{"epoch millis", `1735689601000`, true, 1735689601000},
		{"garbage", `"yesterday"`, false, 0},
		{"null", `null`, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			if err := json.Unmarshal([]byte(tt.input), &ts); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if ts.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v", ts.Valid, tt.wantValid)
			}
			if tt.wantValid && ts.Time.UnixMilli() != tt.wantMs {
				t.Errorf("UnixMilli = %d, want %d", ts.Time.UnixMilli(), tt.wantMs)
			}
		})
	}
}

func TestDecodeFrames_KeepsGoodRecords(t *testing.T) {
	frames, decodeErrs, err := DecodeFrames([]byte(`[
		{"devEui": "a", "receivedAt": "2025-01-01T00:00:00Z"},
		{"devEui": "b", "rxInfo": [{"rssi": "loud"}]},
		{"devEui": "c", "receivedAt": "2025-01-01T00:00:02Z"}
	]`))
	if err != nil {
		t.Fatalf("DecodeFrames: %v", err)
	}
	if len(frames) != 2 || frames[0].DevEUI != "a" || frames[1].DevEUI != "c" {
		t.Errorf("frames = %+v", frames)
	}
	if len(decodeErrs) != 1 || decodeErrs[0].Index != 1 {
		t.Errorf("decodeErrs = %+v", decodeErrs)
	}
}

func TestDecodeFrames_NotAnArray(t *testing.T) {
	if _, _, err := DecodeFrames([]byte(`{"frames": []}`)); err == nil {
		t.Error("expected error for non-array payload")
	}
}

func TestDataRate_MarshalRoundTrip(t *testing.T) {
	f := mustDecodeFrame(t, `{"dataRate": {"bandwidth": 250000, "spreadingFactor": 7}}`)
	out, err := json.Marshal(f.DataRate)
	if err != nil {
		t.Fatal(err)
	}
	var back DataRate
	if err := json.Unmarshal(out, &back); err != nil {
		t.Fatal(err)
	}
	if back.Flat.Bandwidth == nil || *back.Flat.Bandwidth != 250000 {
		t.Errorf("round trip lost bandwidth: %s", out)
	}
}
