// Package ingest gates untrusted scanner payloads before they reach the
// location store. Everything past Validate is trusted.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"campusnav/presence-server/internal/model"
)

const (
	// FacultyIDPrefix is the tag-payload convention for person identifiers.
	FacultyIDPrefix = "FAC_"
	// ScannerIDPrefix is the convention for scanner identifiers.
	ScannerIDPrefix = "SC_"

	// MinRSSI and MaxRSSI bound the physically valid BLE signal range in dBm.
	MinRSSI = -120
	MaxRSSI = 0
)

// Reason classifies why a payload was rejected.
type Reason string

const (
	ReasonParse        Reason = "parse_failure"
	ReasonMissingField Reason = "missing_field"
	ReasonWrongType    Reason = "wrong_type"
	ReasonBadFormat    Reason = "bad_format"
	ReasonOutOfRange   Reason = "out_of_range"
)

// RejectionError reports a payload that failed validation. It is a local,
// recoverable outcome: the message is logged and dropped, never retried.
type RejectionError struct {
	Reason Reason
	Field  string
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("rejected (%s) field %q: %s", e.Reason, e.Field, e.Detail)
	}
	return fmt.Sprintf("rejected (%s): %s", e.Reason, e.Detail)
}

func reject(reason Reason, field, detail string) (model.Detection, error) {
	return model.Detection{}, &RejectionError{Reason: reason, Field: field, Detail: detail}
}

// Validate parses and checks a raw transport payload, returning the
// normalized detection on success or a *RejectionError describing the
// first failure encountered.
func Validate(payload []byte) (model.Detection, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return reject(ReasonParse, "", err.Error())
	}

	facultyID, err := requireString(raw, "facultyId")
	if err != nil {
		return model.Detection{}, err
	}
	scannerID, err := requireString(raw, "scannerId")
	if err != nil {
		return model.Detection{}, err
	}
	room, err := requireString(raw, "room")
	if err != nil {
		return model.Detection{}, err
	}

	rawRSSI, ok := raw["rssi"]
	if !ok || rawRSSI == nil {
		return reject(ReasonMissingField, "rssi", "field is required")
	}
	num, ok := rawRSSI.(json.Number)
	if !ok {
		return reject(ReasonWrongType, "rssi", fmt.Sprintf("expected number, got %T", rawRSSI))
	}
	rssiFloat, convErr := num.Float64()
	if convErr != nil {
		return reject(ReasonWrongType, "rssi", "not a valid number")
	}
	rssi := int(rssiFloat)

	var tagID *string
	if rawTag, ok := raw["tagId"]; ok && rawTag != nil {
		s, ok := rawTag.(string)
		if !ok {
			return reject(ReasonWrongType, "tagId", fmt.Sprintf("expected string or null, got %T", rawTag))
		}
		trimmed := strings.TrimSpace(s)
		tagID = &trimmed
	}

	facultyID = strings.TrimSpace(facultyID)
	scannerID = strings.TrimSpace(scannerID)
	room = strings.TrimSpace(room)

	if !strings.HasPrefix(facultyID, FacultyIDPrefix) {
		return reject(ReasonBadFormat, "facultyId", fmt.Sprintf("%q does not start with %q", facultyID, FacultyIDPrefix))
	}
	if !strings.HasPrefix(scannerID, ScannerIDPrefix) {
		return reject(ReasonBadFormat, "scannerId", fmt.Sprintf("%q does not start with %q", scannerID, ScannerIDPrefix))
	}
	if room == "" {
		return reject(ReasonBadFormat, "room", "must not be empty")
	}

	if rssi < MinRSSI || rssi > MaxRSSI {
		return reject(ReasonOutOfRange, "rssi", fmt.Sprintf("%d outside [%d, %d]", rssi, MinRSSI, MaxRSSI))
	}

	return model.Detection{
		FacultyID: facultyID,
		TagID:     tagID,
		ScannerID: scannerID,
		Room:      room,
		RSSI:      rssi,
	}, nil
}

func requireString(raw map[string]any, field string) (string, error) {
	v, ok := raw[field]
	if !ok || v == nil {
		_, err := reject(ReasonMissingField, field, "field is required")
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		_, err := reject(ReasonWrongType, field, fmt.Sprintf("expected string, got %T", v))
		return "", err
	}
	return s, nil
}
