package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Frame represents one uplink record returned by the frame query service.
//
// Two naming conventions are accepted on input: the camelCase names used by
// the dashboard API and the snake_case names the frame store emits natively.
// Encoding always uses camelCase.
type Frame struct {
	DevEUI         string             `json:"devEui"`
	ApplicationID  string             `json:"applicationId,omitempty"`
	DeviceName     string             `json:"deviceName,omitempty"`
	FrameType      string             `json:"frameType,omitempty"`
	ReceivedAt     Timestamp          `json:"receivedAt"`
	FPort          *int               `json:"fPort,omitempty"`
	FCnt           *int               `json:"fCnt,omitempty"`
	DataRate       *DataRate          `json:"dataRate,omitempty"`
	Frequency      *float64           `json:"frequency,omitempty"`
	RXInfo         []GatewayReception `json:"rxInfo"`
	RawPayload     *string            `json:"rawPayload,omitempty"`
	DecodedPayload json.RawMessage    `json:"decodedPayload,omitempty"`
}

// GatewayReception is one gateway's reception of a frame.
type GatewayReception struct {
	GatewayID string    `json:"gatewayId,omitempty"`
	RSSI      *float64  `json:"rssi,omitempty"`
	SNR       *float64  `json:"snr,omitempty"`
	Channel   *int      `json:"channel,omitempty"`
	RFChain   *int      `json:"rfChain,omitempty"`
	Location  *Location `json:"location,omitempty"`
}

// Location represents a geographic location
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

type frameJSON struct {
	DevEUI              *string            `json:"devEui"`
	DevEUISnake         *string            `json:"dev_eui"`
	ApplicationID       *string            `json:"applicationId"`
	ApplicationIDSnake  *string            `json:"application_id"`
	DeviceName          *string            `json:"deviceName"`
	DeviceNameSnake     *string            `json:"device_name"`
	FrameType           *string            `json:"frameType"`
	FrameTypeSnake      *string            `json:"frame_type"`
	ReceivedAt          *Timestamp         `json:"receivedAt"`
	ReceivedAtSnake     *Timestamp         `json:"received_at"`
	FPort               *int               `json:"fPort"`
	FPortSnake          *int               `json:"f_port"`
	FCnt                *int               `json:"fCnt"`
	FCntSnake           *int               `json:"f_cnt"`
	DataRate            *DataRate          `json:"dataRate"`
	DataRateShort       *DataRate          `json:"dr"`
	Frequency           *float64           `json:"frequency"`
	RXInfo              []GatewayReception `json:"rxInfo"`
	RXInfoSnake         []GatewayReception `json:"rx_info"`
	RawPayload          *string            `json:"rawPayload"`
	RawPayloadSnake     *string            `json:"raw_payload"`
	DecodedPayload      json.RawMessage    `json:"decodedPayload"`
	DecodedPayloadSnake json.RawMessage    `json:"decoded_payload"`
}

// UnmarshalJSON implements json.Unmarshaler
func (f *Frame) UnmarshalJSON(data []byte) error {
	var raw frameJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*f = Frame{
		DevEUI:         firstString(raw.DevEUI, raw.DevEUISnake),
		ApplicationID:  firstString(raw.ApplicationID, raw.ApplicationIDSnake),
		DeviceName:     firstString(raw.DeviceName, raw.DeviceNameSnake),
		FrameType:      firstString(raw.FrameType, raw.FrameTypeSnake),
		FPort:          firstInt(raw.FPort, raw.FPortSnake),
		FCnt:           firstInt(raw.FCnt, raw.FCntSnake),
		DataRate:       raw.DataRate,
		Frequency:      raw.Frequency,
		RXInfo:         raw.RXInfo,
		RawPayload:     raw.RawPayload,
		DecodedPayload: raw.DecodedPayload,
	}

	switch {
	case raw.ReceivedAt != nil:
		f.ReceivedAt = *raw.ReceivedAt
	case raw.ReceivedAtSnake != nil:
		f.ReceivedAt = *raw.ReceivedAtSnake
	}
	if f.DataRate == nil {
		f.DataRate = raw.DataRateShort
	}
	if f.RXInfo == nil {
		f.RXInfo = raw.RXInfoSnake
	}
	if f.RawPayload == nil {
		f.RawPayload = raw.RawPayloadSnake
	}
	if isNull(f.DecodedPayload) {
		f.DecodedPayload = raw.DecodedPayloadSnake
	}
	if isNull(f.DecodedPayload) {
		f.DecodedPayload = nil
	}

	return nil
}

type receptionJSON struct {
	GatewayID      *string   `json:"gatewayId"`
	GatewayIDSnake *string   `json:"gateway_id"`
	RSSI           *float64  `json:"rssi"`
	SNR            *float64  `json:"snr"`
	LoRaSNR        *float64  `json:"loRaSNR"`
	Channel        *int      `json:"channel"`
	RFChain        *int      `json:"rfChain"`
	RFChainSnake   *int      `json:"rf_chain"`
	Location       *Location `json:"location"`
}

// UnmarshalJSON implements json.Unmarshaler
func (g *GatewayReception) UnmarshalJSON(data []byte) error {
	var raw receptionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*g = GatewayReception{
		GatewayID: firstString(raw.GatewayID, raw.GatewayIDSnake),
		RSSI:      raw.RSSI,
		SNR:       raw.SNR,
		Channel:   raw.Channel,
		RFChain:   firstInt(raw.RFChain, raw.RFChainSnake),
		Location:  raw.Location,
	}
	if g.SNR == nil {
		g.SNR = raw.LoRaSNR
	}
	return nil
}

// Timestamp is a reception instant. Input may be an RFC3339 string or a
// number of milliseconds since the Unix epoch. A value that does not parse is
// kept in Raw with Valid set to false.
type Timestamp struct {
	Raw   string
	Time  time.Time
	Valid bool
}

// NewTimestamp returns a valid timestamp for t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Raw: t.UTC().Format(time.RFC3339Nano), Time: t.UTC(), Valid: true}
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	*t = Timestamp{}
	if isNull(data) {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		t.Raw = s
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t.Time = parsed.UTC()
			t.Valid = true
		}
		return nil
	}

	t.Raw = string(data)
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return nil
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	t.Valid = true
	return nil
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Valid {
		return json.Marshal(t.Time.Format(time.RFC3339Nano))
	}
	if t.Raw == "" {
		return []byte("null"), nil
	}
	return json.Marshal(t.Raw)
}

// DecodeError describes a frame record that could not be decoded.
type DecodeError struct {
	Index int
	Err   error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("frame %d: %v", e.Index, e.Err)
}

// DecodeFrames decodes a JSON array of frame records. Records that fail to
// decode are reported individually and left out of the result; only a
// payload that is not a JSON array fails as a whole.
func DecodeFrames(data []byte) ([]Frame, []DecodeError, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, nil, fmt.Errorf("decode frame list: %w", err)
	}
	frames, decodeErrs := DecodeFrameList(raws)
	return frames, decodeErrs, nil
}

// DecodeFrameList decodes already split frame records.
func DecodeFrameList(raws []json.RawMessage) ([]Frame, []DecodeError) {
	frames := make([]Frame, 0, len(raws))
	var decodeErrs []DecodeError
	for i, raw := range raws {
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			decodeErrs = append(decodeErrs, DecodeError{Index: i, Err: err})
			continue
		}
		frames = append(frames, f)
	}
	return frames, decodeErrs
}

func firstString(values ...*string) string {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return ""
}

func firstInt(values ...*int) *int {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func isNull(data []byte) bool {
	return len(data) == 0 || string(data) == "null"
}
