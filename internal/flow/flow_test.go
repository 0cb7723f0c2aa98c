package flow

import (
	"testing"
	"time"

	"github.com/resq108/DispatchPipe/internal/models"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func event(from, body string) models.InboundEvent {
	return models.InboundEvent{From: from, Body: body, Time: testNow.Unix()}
}

func TestAdvance_HelpCreatesSession(t *testing.T) {
	for _, help := range []string{"help", "HELP", "Help", "hElP", "  help  "} {
		res := Advance(nil, event("15551234567", help), testNow)
		if res.Session == nil {
			t.Fatalf("Advance(%q) created no session", help)
		}
		if res.Session.State != models.StateAwaitingChoice {
			t.Errorf("Advance(%q) state = %s, want %s", help, res.Session.State, models.StateAwaitingChoice)
		}
		if res.Reply != WelcomeMenu {
			t.Errorf("Advance(%q) reply = %q, want welcome menu", help, res.Reply)
		}
		if err := res.Session.Validate(); err != nil {
			t.Errorf("Advance(%q) produced invalid session: %v", help, err)
		}
	}
}

func TestAdvance_NoSessionNonHelp(t *testing.T) {
	for _, body := range []string{"hi", "1", "emergency!", ""} {
		res := Advance(nil, event("15551234567", body), testNow)
		if res.Session != nil {
			t.Errorf("Advance(nil, %q) created a session, want none", body)
		}
		if res.Reply != StartPrompt {
			t.Errorf("Advance(nil, %q) reply = %q, want start prompt", body, res.Reply)
		}
	}
}

func TestAdvance_ChoiceSelection(t *testing.T) {
	tests := []struct {
		input string
		want  models.EmergencyType
	}{
		{"1", models.EmergencyMedical},
		{"2", models.EmergencyFire},
		{"3", models.EmergencyPolice},
	}
	for _, tc := range tests {
		sess := &models.Session{
			Phone:      "15551234567",
			State:      models.StateAwaitingChoice,
			CreatedAt:  testNow,
			LastActive: testNow,
		}
		res := Advance(sess, event(sess.Phone, tc.input), testNow)
		if res.Session == nil {
			t.Fatalf("Advance(%q) dropped the session", tc.input)
		}
		if res.Session.State != models.StateAwaitingLocation {
			t.Errorf("Advance(%q) state = %s, want %s", tc.input, res.Session.State, models.StateAwaitingLocation)
		}
		if res.Session.EmergencyType != tc.want {
			t.Errorf("Advance(%q) emergency type = %s, want %s", tc.input, res.Session.EmergencyType, tc.want)
		}
		if res.Reply != LocationPrompt(tc.want) {
			t.Errorf("Advance(%q) reply = %q, want location prompt for %s", tc.input, res.Reply, tc.want)
		}
		if err := res.Session.Validate(); err != nil {
			t.Errorf("Advance(%q) produced invalid session: %v", tc.input, err)
		}
	}
}

func TestAdvance_InvalidChoiceRepeatsMenu(t *testing.T) {
	sess := &models.Session{
		Phone:      "15551234567",
		State:      models.StateAwaitingChoice,
		CreatedAt:  testNow,
		LastActive: testNow,
	}
	// Replaying the same unrecognized input must be idempotent: same state,
	// same reply, both times.
	for i := 0; i < 2; i++ {
		res := Advance(sess, event(sess.Phone, "4"), testNow)
		if res.Session == nil || res.Session.State != models.StateAwaitingChoice {
			t.Fatalf("iteration %d: state changed on invalid choice: %+v", i, res.Session)
		}
		if res.Session.EmergencyType != "" {
			t.Errorf("iteration %d: emergency type set on invalid choice", i)
		}
		if res.Reply != WelcomeMenu {
			t.Errorf("iteration %d: reply = %q, want welcome menu", i, res.Reply)
		}
		sess = res.Session
	}
}

func TestAdvance_LocationCompletesFlow(t *testing.T) {
	sess := &models.Session{
		Phone:         "15551234567",
		State:         models.StateAwaitingLocation,
		EmergencyType: models.EmergencyFire,
		CreatedAt:     testNow,
		LastActive:    testNow,
	}
	res := Advance(sess, event(sess.Phone, "221 Baker Street"), testNow)
	if res.Session == nil {
		t.Fatal("Advance dropped the session")
	}
	if res.Session.State != models.StateCompleted {
		t.Errorf("state = %s, want %s", res.Session.State, models.StateCompleted)
	}
	if res.Session.Location != "221 Baker Street" {
		t.Errorf("location = %q, want the text as sent", res.Session.Location)
	}
	if res.Reply != Confirmation(models.EmergencyFire) {
		t.Errorf("reply = %q, want fire confirmation", res.Reply)
	}
	if !res.Completed {
		t.Error("Completed = false, want true on location capture")
	}
	if err := res.Session.Validate(); err != nil {
		t.Errorf("completed session invalid: %v", err)
	}
}

func TestAdvance_BlankLocationRepeatsPrompt(t *testing.T) {
	sess := &models.Session{
		Phone:         "15551234567",
		State:         models.StateAwaitingLocation,
		EmergencyType: models.EmergencyMedical,
		CreatedAt:     testNow,
		LastActive:    testNow,
	}
	res := Advance(sess, event(sess.Phone, "   "), testNow)
	if res.Session == nil || res.Session.State != models.StateAwaitingLocation {
		t.Fatalf("blank location changed state: %+v", res.Session)
	}
	if res.Reply != LocationPrompt(models.EmergencyMedical) {
		t.Errorf("reply = %q, want repeated location prompt", res.Reply)
	}
	if res.Completed {
		t.Error("Completed = true on blank location")
	}
}

func TestAdvance_CompletedNonHelp(t *testing.T) {
	sess := &models.Session{
		Phone:         "15551234567",
		State:         models.StateCompleted,
		EmergencyType: models.EmergencyPolice,
		Location:      "Main Square",
		CreatedAt:     testNow,
		LastActive:    testNow,
	}
	res := Advance(sess, event(sess.Phone, "thanks"), testNow)
	if res.Session == nil || res.Session.State != models.StateCompleted {
		t.Fatalf("completed session changed state: %+v", res.Session)
	}
	if res.Session.Location != "Main Square" || res.Session.EmergencyType != models.EmergencyPolice {
		t.Errorf("completed session fields mutated: %+v", res.Session)
	}
	if res.Reply != RestartPrompt {
		t.Errorf("reply = %q, want restart prompt", res.Reply)
	}
}

func TestAdvance_HelpResetsCompletedSession(t *testing.T) {
	created := testNow.Add(-time.Hour)
	sess := &models.Session{
		Phone:         "15551234567",
		State:         models.StateCompleted,
		EmergencyType: models.EmergencyFire,
		Location:      "Harbour Road 9",
		CreatedAt:     created,
		LastActive:    testNow.Add(-time.Hour),
	}
	res := Advance(sess, event(sess.Phone, "HELP"), testNow)
	if res.Session == nil || res.Session.State != models.StateAwaitingChoice {
		t.Fatalf("help did not reset session: %+v", res.Session)
	}
	// Full reset policy: stored fields from the previous run are cleared.
	if res.Session.EmergencyType != "" || res.Session.Location != "" {
		t.Errorf("help reset kept stale fields: %+v", res.Session)
	}
	if !res.Session.CreatedAt.Equal(created) {
		t.Errorf("help reset lost original creation time: %v", res.Session.CreatedAt)
	}
	if !res.Session.LastActive.Equal(testNow) {
		t.Errorf("help reset did not refresh last active: %v", res.Session.LastActive)
	}
}

// TestAdvance_FullScenario walks the example conversation end to end:
// Help -> 2 -> address.
func TestAdvance_FullScenario(t *testing.T) {
	res := Advance(nil, event("15550001111", "Help"), testNow)
	if res.Session == nil || res.Session.State != models.StateAwaitingChoice {
		t.Fatalf("after Help: %+v", res.Session)
	}

	res = Advance(res.Session, event("15550001111", "2"), testNow.Add(time.Minute))
	if res.Session.State != models.StateAwaitingLocation || res.Session.EmergencyType != models.EmergencyFire {
		t.Fatalf("after choice 2: %+v", res.Session)
	}
	if res.Reply != LocationPrompt(models.EmergencyFire) {
		t.Fatalf("after choice 2 reply = %q", res.Reply)
	}

	res = Advance(res.Session, event("15550001111", "221 Baker Street"), testNow.Add(2*time.Minute))
	if res.Session.State != models.StateCompleted ||
		res.Session.EmergencyType != models.EmergencyFire ||
		res.Session.Location != "221 Baker Street" {
		t.Fatalf("after address: %+v", res.Session)
	}
	if res.Reply != Confirmation(models.EmergencyFire) {
		t.Fatalf("after address reply = %q", res.Reply)
	}
}

func TestConfirmation_UnknownTypeFallsBack(t *testing.T) {
	if got := Confirmation("unknown"); got != "✅ Help is on the way!" {
		t.Errorf("Confirmation fallback = %q", got)
	}
}
