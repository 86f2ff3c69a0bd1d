package ingestserver

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/logsentry/logsentry/internal/model"
)

// validate is promoted to a direct dependency here rather than left as
// gin's transitive binding engine; handleIngest runs validate.Struct
// after gin's own struct-tag binding passes. The DTOs carry no
// `validate` tags, so the envelope limits are checked by hand: the
// record count in handleIngest, attribute count/bytes in toRecord.
var validate = validator.New()

// EnvelopeLimitBytes and EnvelopeLimitRecords are the hard caps from
// spec §4.G step 3 / §6.1.
const (
	EnvelopeLimitBytes   = 1 << 20
	EnvelopeLimitRecords = 1000
)

// logRecordDTO is the wire shape of one log record (§6.1).
type logRecordDTO struct {
	Timestamp  json.RawMessage        `json:"timestamp"`
	Level      string                 `json:"level" binding:"required"`
	Message    string                 `json:"message" binding:"required"`
	Service    string                 `json:"service"`
	Attributes map[string]interface{} `json:"attributes"`
}

// recordOverheadBytes approximates the wire cost of a record's
// timestamp, level, and JSON punctuation — the part of §3's 32KiB
// serialized-record cap that isn't message, service, or attributes.
const recordOverheadBytes = 64

// ingestRequest is the wire shape of a POST /ingest body (§6.1).
type ingestRequest struct {
	APIKey string         `json:"api_key" binding:"required"`
	Logs   []logRecordDTO `json:"logs"`
}

// toRecord converts a validated DTO into a model.LogRecord. It does
// not set AppID, Fingerprint, or IngestedAt — those are bound by the
// ingest handler after authentication (§4.G steps 2, 4).
func (d logRecordDTO) toRecord() (model.LogRecord, error) {
	level := model.Level(d.Level)
	if !level.Valid() {
		return model.LogRecord{}, fmt.Errorf("invalid level %q", d.Level)
	}

	ts, err := parseTimestamp(d.Timestamp)
	if err != nil {
		return model.LogRecord{}, err
	}

	if len(d.Attributes) > model.MaxAttributes {
		return model.LogRecord{}, fmt.Errorf("attributes: %d entries exceeds max %d", len(d.Attributes), model.MaxAttributes)
	}
	attrs := make(map[string]model.AttrValue, len(d.Attributes))
	var attrBytes int
	for k, v := range d.Attributes {
		av, err := toAttrValue(v)
		if err != nil {
			return model.LogRecord{}, fmt.Errorf("attributes[%s]: %w", k, err)
		}
		attrs[k] = av
		attrBytes += len(k) + attrValueSize(av)
	}
	if attrBytes > model.MaxAttributesBytes {
		return model.LogRecord{}, fmt.Errorf("attributes: %d bytes exceeds max %d", attrBytes, model.MaxAttributesBytes)
	}

	message := d.Message
	if len(message) > model.MaxMessageBytes {
		message = message[:model.MaxMessageBytes]
	}

	recordBytes := len(message) + len(d.Service) + attrBytes + recordOverheadBytes
	if recordBytes > model.MaxRecordBytes {
		return model.LogRecord{}, fmt.Errorf("%w: record is %d bytes, max %d", model.ErrPayloadTooLarge, recordBytes, model.MaxRecordBytes)
	}

	return model.LogRecord{
		Timestamp:  ts,
		Level:      level,
		Message:    message,
		Service:    d.Service,
		Attributes: attrs,
	}, nil
}

func toAttrValue(v interface{}) (model.AttrValue, error) {
	switch t := v.(type) {
	case nil:
		return model.AttrValue{Kind: model.AttrNull}, nil
	case string:
		return model.AttrValue{Kind: model.AttrString, Str: t}, nil
	case bool:
		return model.AttrValue{Kind: model.AttrBool, Bool: t}, nil
	case float64:
		return model.AttrValue{Kind: model.AttrFloat, Flt: t}, nil
	default:
		return model.AttrValue{}, fmt.Errorf("unsupported attribute type %T (nested containers are rejected)", v)
	}
}

func attrValueSize(v model.AttrValue) int {
	switch v.Kind {
	case model.AttrString:
		return len(v.Str)
	case model.AttrInt, model.AttrFloat:
		return 8
	case model.AttrBool:
		return 1
	default:
		return 0
	}
}

// parseTimestamp accepts either an ISO8601 string or an epoch-seconds
// number (§6.1).
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Now().UTC(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, perr := time.Parse(time.RFC3339Nano, s)
		if perr != nil {
			t, perr = time.Parse(time.RFC3339, s)
		}
		if perr != nil {
			return time.Time{}, fmt.Errorf("timestamp: invalid ISO8601 value %q", s)
		}
		return t, nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		sec, frac := int64(f), f-float64(int64(f))
		return time.Unix(sec, int64(frac*1e9)).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("timestamp: unsupported value %s", raw)
}

// ingestResponse is the success body for POST /ingest (§6.1).
type ingestResponse struct {
	Accepted int `json:"accepted"`
}

// errorResponse is the uniform error body across the API surface.
type errorResponse struct {
	Error string `json:"error"`
}
