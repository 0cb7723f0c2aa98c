// Package flow implements the per-user conversation state machine for the
// emergency dispatch flow.
//
// The flow is a fixed three-step dialogue: choose a service, share a
// location, receive a confirmation. Advance is a pure function so the
// transition logic is unit-testable without any I/O; all persistence and
// message delivery happens in the dispatch package.
package flow

import (
	"strings"
	"time"

	"github.com/resq108/DispatchPipe/internal/models"
)

// Result describes the outcome of advancing the state machine by one inbound
// event.
type Result struct {
	// Session is the record to persist, or nil when no record should exist
	// (a user without a session sent something other than HELP).
	Session *models.Session
	// Reply is the outbound message to send back to the user. Never empty.
	Reply string
	// Completed is true on the transition that finishes the flow, i.e. the
	// moment the location was captured and the confirmation goes out.
	Completed bool
}

// Advance computes the next session and outbound reply for one inbound event.
//
// sess is the user's current session or nil when none exists. The transition
// table is total: every (state, input) pair maps to exactly one outcome, and
// unrecognized input degrades to a repeat prompt rather than an error. HELP
// (case-insensitive, surrounding whitespace ignored) always resets to a fresh
// session awaiting a choice; it is the only non-monotonic transition and the
// sole recovery path for a user.
func Advance(sess *models.Session, ev models.InboundEvent, now time.Time) Result {
	text := strings.TrimSpace(ev.Body)

	// HELP wins over everything, including an in-progress or completed flow.
	// The reset is a full overwrite: emergency type and location from a
	// previous run are cleared.
	if strings.EqualFold(text, "help") {
		created := now
		if sess != nil {
			created = sess.CreatedAt
		}
		return Result{
			Session: &models.Session{
				Phone:      ev.From,
				State:      models.StateAwaitingChoice,
				CreatedAt:  created,
				LastActive: now,
			},
			Reply: WelcomeMenu,
		}
	}

	// No session and not HELP: prompt, but do not create a record.
	if sess == nil {
		return Result{Reply: StartPrompt}
	}

	next := *sess
	next.LastActive = now

	switch sess.State {
	case models.StateAwaitingChoice:
		if et, ok := models.EmergencyTypeFromChoice(text); ok {
			next.State = models.StateAwaitingLocation
			next.EmergencyType = et
			return Result{Session: &next, Reply: LocationPrompt(et)}
		}
		// Anything else re-sends the menu and leaves the state unchanged.
		return Result{Session: &next, Reply: WelcomeMenu}

	case models.StateAwaitingLocation:
		if text == "" {
			// Blank input cannot be a location; repeat the prompt.
			return Result{Session: &next, Reply: LocationPrompt(sess.EmergencyType)}
		}
		next.State = models.StateCompleted
		next.Location = text
		return Result{Session: &next, Reply: Confirmation(sess.EmergencyType), Completed: true}

	default: // models.StateCompleted
		return Result{Session: &next, Reply: RestartPrompt}
	}
}
