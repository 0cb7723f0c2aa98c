// Package models defines shared data structures for DispatchPipe.
//
// It contains the conversation session types used by the emergency flow,
// the normalized inbound event consumed by the dispatcher, and the JSON
// response envelopes returned by the HTTP API.
package models

import (
	"fmt"
	"time"
)

// SessionState represents where a user currently is in the emergency flow.
// The absence of a session record is the implicit initial state; it is never
// stored as a value.
type SessionState string

const (
	// StateAwaitingChoice means the welcome menu was sent and the bot is
	// waiting for the user to pick an emergency type (1, 2 or 3).
	StateAwaitingChoice SessionState = "AWAITING_CHOICE"
	// StateAwaitingLocation means an emergency type was chosen and the bot is
	// waiting for a free-text location.
	StateAwaitingLocation SessionState = "AWAITING_LOCATION"
	// StateCompleted means type and location are both known and the dispatch
	// confirmation was sent.
	StateCompleted SessionState = "COMPLETED"
)

// EmergencyType identifies which service the user asked for.
type EmergencyType string

const (
	EmergencyMedical EmergencyType = "medical"
	EmergencyFire    EmergencyType = "fire"
	EmergencyPolice  EmergencyType = "police"
)

// EmergencyTypeFromChoice maps a menu reply ("1", "2", "3") to an emergency
// type. The second return value is false for any other input.
func EmergencyTypeFromChoice(choice string) (EmergencyType, bool) {
	switch choice {
	case "1":
		return EmergencyMedical, true
	case "2":
		return EmergencyFire, true
	case "3":
		return EmergencyPolice, true
	default:
		return "", false
	}
}

// Session is the per-user conversation record. Exactly one session exists per
// phone number; re-entry overwrites in place.
type Session struct {
	Phone         string        `json:"phone"`
	State         SessionState  `json:"state"`
	EmergencyType EmergencyType `json:"emergency_type,omitempty"`
	Location      string        `json:"location,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	LastActive    time.Time     `json:"last_active"`
}

// Validate checks the session field invariants: the emergency type is set if
// and only if a choice was made, and the location is set if and only if the
// flow completed.
func (s Session) Validate() error {
	if s.Phone == "" {
		return fmt.Errorf("session phone must not be empty")
	}
	switch s.State {
	case StateAwaitingChoice:
		if s.EmergencyType != "" {
			return fmt.Errorf("session in %s must not carry an emergency type", s.State)
		}
		if s.Location != "" {
			return fmt.Errorf("session in %s must not carry a location", s.State)
		}
	case StateAwaitingLocation:
		if s.EmergencyType == "" {
			return fmt.Errorf("session in %s must carry an emergency type", s.State)
		}
		if s.Location != "" {
			return fmt.Errorf("session in %s must not carry a location", s.State)
		}
	case StateCompleted:
		if s.EmergencyType == "" {
			return fmt.Errorf("session in %s must carry an emergency type", s.State)
		}
		if s.Location == "" {
			return fmt.Errorf("session in %s must carry a location", s.State)
		}
	default:
		return fmt.Errorf("unknown session state %q", s.State)
	}
	return nil
}

// InboundEvent is the normalized representation of a user's incoming text
// message, produced by the classifiers and consumed by the dispatcher.
type InboundEvent struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}

// DispatchRecord is an audit entry written once per completed emergency
// request, when the confirmation is about to go out.
type DispatchRecord struct {
	Phone         string        `json:"phone"`
	EmergencyType EmergencyType `json:"emergency_type"`
	Location      string        `json:"location"`
	Time          int64         `json:"time"`
}

// API response types for consistent JSON responses

// APIStatus represents the status field of an API response.
type APIStatus string

const (
	APIStatusOK      APIStatus = "ok"
	APIStatusIgnored APIStatus = "ignored"
	APIStatusError   APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Ignored creates a response acknowledging a payload that yielded no events.
func Ignored(message string) APIResponse {
	return APIResponse{Status: string(APIStatusIgnored), Message: message}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
