package models

import "encoding/json"

// DataRate is the data-rate descriptor attached to a frame. Deployments of
// the frame store report it in one of two shapes: the modulation fields
// nested under "lora", or the same fields set directly on the descriptor.
// Both are kept so callers can check them in order.
type DataRate struct {
	Modulation string          `json:"modulation,omitempty"`
	Bitrate    *float64        `json:"bitrate,omitempty"`
	Nested     *DataRateFields `json:"lora,omitempty"`
	Flat       DataRateFields  `json:"-"`
}

// DataRateFields holds the LoRa modulation values of one descriptor shape.
// SpreadingFactor may carry a regional DR index instead of a spreading
// factor.
type DataRateFields struct {
	Bandwidth       *float64 `json:"bandwidth,omitempty"`
	SpreadingFactor *float64 `json:"spreadingFactor,omitempty"`
	CodeRate        string   `json:"codeRate,omitempty"`
}

type dataRateFieldsJSON struct {
	Bandwidth            *float64        `json:"bandwidth"`
	SpreadingFactor      *float64        `json:"spreadingFactor"`
	SpreadingFactorSnake *float64        `json:"spreading_factor"`
	CodeRate             *string         `json:"codeRate"`
	CodeRateSnake        *string         `json:"code_rate"`
	Modulation           json.RawMessage `json:"modulation"`
	Bitrate              *float64        `json:"bitrate"`
}

func (f dataRateFieldsJSON) fields() DataRateFields {
	sf := f.SpreadingFactor
	if sf == nil {
		sf = f.SpreadingFactorSnake
	}
	return DataRateFields{
		Bandwidth:       f.Bandwidth,
		SpreadingFactor: sf,
		CodeRate:        firstString(f.CodeRate, f.CodeRateSnake),
	}
}

// IsZero reports whether no field of the shape is set.
func (f DataRateFields) IsZero() bool {
	return f.Bandwidth == nil && f.SpreadingFactor == nil && f.CodeRate == ""
}

// UnmarshalJSON implements json.Unmarshaler
func (d *DataRate) UnmarshalJSON(data []byte) error {
	var raw struct {
		dataRateFieldsJSON
		LoRa *dataRateFieldsJSON `json:"lora"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = DataRate{
		Bitrate: raw.Bitrate,
		Flat:    raw.dataRateFieldsJSON.fields(),
	}
	// Some servers send modulation as an object; only the string form is kept.
	var modulation string
	if err := json.Unmarshal(raw.Modulation, &modulation); err == nil {
		d.Modulation = modulation
	}
	if raw.LoRa != nil {
		nested := raw.LoRa.fields()
		d.Nested = &nested
	}
	return nil
}

// MarshalJSON implements json.Marshaler. The flat shape is written next to
// the descriptor-level fields.
func (d DataRate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Modulation string          `json:"modulation,omitempty"`
		Bitrate    *float64        `json:"bitrate,omitempty"`
		Nested     *DataRateFields `json:"lora,omitempty"`
		DataRateFields
	}{d.Modulation, d.Bitrate, d.Nested, d.Flat})
}
