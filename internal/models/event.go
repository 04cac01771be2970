package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

type EventType string

const (
	EventCallSpecific   EventType = "specific"
	EventCallEmergency  EventType = "emergency"
	EventCallByName     EventType = "byName"
	EventTransferIssued EventType = "transfer-issued"
	EventAlert          EventType = "alert"
)

const (
	AlertText      = "text"
	AlertDoctor    = "doctorAlert"
	AlertEmergency = "emergency"
	AlertTransfer  = "transfer"
	AlertAdmin     = "admin"
)

var ErrUnknownEventType = errors.New("unknown event type")

// Payload is implemented only by the event variants in this package.
type Payload interface {
	Type() EventType
	// ClinicRef is the clinic the event must resolve against, or "".
	ClinicRef() string
	isPayload()
}

type CallSpecific struct {
	ClinicID     string `json:"clinic_id"`
	ClientNumber int    `json:"client_number"`
}

type CallEmergency struct {
	ClinicID string `json:"clinic_id"`
}

type CallByName struct {
	ClinicID   string `json:"clinic_id"`
	ClientName string `json:"client_name"`
}

// TransferIssued is the log-only transfer record. It never moves counters.
type TransferIssued struct {
	ClientNumber int    `json:"client_number"`
	FromClinicID string `json:"from_clinic_id"`
	ToClinicID   string `json:"to_clinic_id"`
}

type Alert struct {
	Message      string `json:"message"`
	AlertType    string `json:"alert_type"`
	FromClinicID string `json:"from_clinic_id,omitempty"`
	ToClinicID   string `json:"to_clinic_id,omitempty"`
}

func (CallSpecific) Type() EventType   { return EventCallSpecific }
func (CallEmergency) Type() EventType  { return EventCallEmergency }
func (CallByName) Type() EventType     { return EventCallByName }
func (TransferIssued) Type() EventType { return EventTransferIssued }
func (Alert) Type() EventType          { return EventAlert }

func (p CallSpecific) ClinicRef() string   { return p.ClinicID }
func (p CallEmergency) ClinicRef() string  { return p.ClinicID }
func (p CallByName) ClinicRef() string     { return p.ClinicID }
func (p TransferIssued) ClinicRef() string { return p.ToClinicID }

func (p Alert) ClinicRef() string {
	if p.AlertType == AlertTransfer {
		return p.ToClinicID
	}
	return p.FromClinicID
}

func (CallSpecific) isPayload()   {}
func (CallEmergency) isPayload()  {}
func (CallByName) isPayload()     {}
func (TransferIssued) isPayload() {}
func (Alert) isPayload()          {}

func ValidAlertType(alertType string) bool {
	switch alertType {
	case AlertText, AlertDoctor, AlertEmergency, AlertTransfer, AlertAdmin:
		return true
	}
	return false
}

// Event is one immutable entry of the event log. Seq is assigned on append.
type Event struct {
	Seq       int64
	EventID   string
	Timestamp time.Time
	Payload   Payload
}

type eventEnvelope struct {
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

func (e Event) Type() EventType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Type()
}

func (e Event) ClinicRef() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.ClinicRef()
}

func (e Event) MarshalJSON() ([]byte, error) {
	eventType, raw, err := EncodePayload(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{
		Seq:       e.Seq,
		EventID:   e.EventID,
		Timestamp: e.Timestamp,
		Type:      eventType,
		Payload:   raw,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	payload, err := DecodePayload(env.Type, env.Payload)
	if err != nil {
		return err
	}
	e.Seq = env.Seq
	e.EventID = env.EventID
	e.Timestamp = env.Timestamp
	e.Payload = payload
	return nil
}

func EncodePayload(p Payload) (EventType, json.RawMessage, error) {
	if p == nil {
		return "", nil, errors.New("event payload is nil")
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", nil, err
	}
	return p.Type(), raw, nil
}

func DecodePayload(eventType EventType, raw json.RawMessage) (Payload, error) {
	switch eventType {
	case EventCallSpecific:
		return decodeAs[CallSpecific](raw)
	case EventCallEmergency:
		return decodeAs[CallEmergency](raw)
	case EventCallByName:
		return decodeAs[CallByName](raw)
	case EventTransferIssued:
		return decodeAs[TransferIssued](raw)
	case EventAlert:
		return decodeAs[Alert](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
}

func decodeAs[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}
