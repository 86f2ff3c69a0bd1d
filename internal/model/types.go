// Package model holds the canonical types shared across the ingestion
// server, the per-app processor, and the client SDK.
package model

import "time"

// Level is a log severity. The enum is closed — "WARN" and other
// aliases are rejected at the ingest boundary, not normalized.
type Level string

const (
	LevelTrace    Level = "TRACE"
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Levels lists the closed enum in ascending severity order.
var Levels = []Level{LevelTrace, LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical}

// Valid reports whether l is one of the six canonical levels.
func (l Level) Valid() bool {
	switch l {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	default:
		return false
	}
}

// IsBad reports whether l counts toward error-rate windows (§4.J).
func (l Level) IsBad() bool {
	return l == LevelError || l == LevelCritical
}

// MaxMessageBytes is the hard per-record message cap (§3).
const MaxMessageBytes = 16 * 1024

// MaxAttributes is the hard per-record attribute-count cap (§3).
const MaxAttributes = 32

// MaxAttributesBytes is the hard serialized-attributes size cap (§3).
const MaxAttributesBytes = 4 * 1024

// MaxRecordBytes is the hard per-record serialized size cap (§3).
const MaxRecordBytes = 32 * 1024

// AttrKind tags the scalar type carried by an AttrValue.
type AttrKind int

const (
	AttrString AttrKind = iota
	AttrInt
	AttrFloat
	AttrBool
	AttrNull
)

// AttrValue is a tagged union over the scalar attribute types permitted
// by the wire format (string | number | bool | null). Nested containers
// are rejected at the SDK boundary per the design note in §9.
type AttrValue struct {
	Kind AttrKind
	Str  string
	Int  int64
	Flt  float64
	Bool bool
}

func (v AttrValue) MarshalableAny() any {
	switch v.Kind {
	case AttrString:
		return v.Str
	case AttrInt:
		return v.Int
	case AttrFloat:
		return v.Flt
	case AttrBool:
		return v.Bool
	default:
		return nil
	}
}

// LogRecord is the canonical record shape shared by the SDK wire format
// and server-side storage.
type LogRecord struct {
	Timestamp   time.Time
	Level       Level
	Message     string
	Service     string
	Attributes  map[string]AttrValue
	Fingerprint string // derived server-side, empty on the wire from the SDK
	AppID       string // bound server-side at ingest
	IngestedAt  time.Time
}

// PersistedLog is a LogRecord plus the server-side classification result.
type PersistedLog struct {
	ID             string
	AppID          string
	Timestamp      time.Time
	IngestedAt     time.Time
	Level          Level
	Service        string
	Message        string
	Attributes     map[string]AttrValue
	Fingerprint    string
	Classification string // empty when unclassified
}

// App is an owner-scoped tenant. All logs are grouped under an App.
type App struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
}

// APIKeyRecord is the persisted (hashed-only) form of an ApiKey.
type APIKeyRecord struct {
	AppID     string
	KeyHash   string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// DeviceSessionStatus is the monotone status chain for a DeviceSession.
type DeviceSessionStatus string

const (
	DeviceStatusPending   DeviceSessionStatus = "pending"
	DeviceStatusApproved  DeviceSessionStatus = "approved"
	DeviceStatusCompleted DeviceSessionStatus = "completed"
	DeviceStatusExpired   DeviceSessionStatus = "expired"
	DeviceStatusDenied    DeviceSessionStatus = "denied"
)

// DeviceSession coordinates the out-of-band device-authorization handshake.
type DeviceSession struct {
	DeviceCode      string
	UserCode        string
	Status          DeviceSessionStatus
	AppName         string
	Description     string
	UserID          string
	AppID           string
	APIKeyPlaintext string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	ApprovedAt      time.Time
}

// Expired reports whether the session's deadline has passed as of now.
func (d DeviceSession) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}
