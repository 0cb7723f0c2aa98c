package flow

import "github.com/resq108/DispatchPipe/internal/models"

// Reply templates for the emergency flow. Content is static; the confirmation
// is a pure function of the emergency type.

// WelcomeMenu is sent whenever a user types HELP.
const WelcomeMenu = `🚨 *Welcome to 108 Emergency Services*

Please choose emergency type:

1. 🚑 *Medical Emergency* - Ambulance
2. 🔥 *Fire Emergency* - Fire Brigade
3. 👮 *Police Emergency* - Police

Reply with *1*, *2*, or *3*`

// StartPrompt is sent to users with no session who sent something other than HELP.
const StartPrompt = "Type HELP to start emergency services"

// RestartPrompt is sent after a completed flow when the user sends anything but HELP.
const RestartPrompt = "Help is on the way. Type HELP to request another emergency service"

var emergencyNames = map[models.EmergencyType]string{
	models.EmergencyMedical: "Medical Emergency 🚑",
	models.EmergencyFire:    "Fire Emergency 🔥",
	models.EmergencyPolice:  "Police Emergency 👮",
}

var confirmations = map[models.EmergencyType]string{
	models.EmergencyMedical: `✅ *Ambulance Dispatched!*

⏱️ *ETA:* 8-12 minutes
📞 *Medical team will call you shortly*

*Please:*
• Stay with the patient
• Keep medicines handy
• Clear entrance pathway
• Keep phone accessible`,

	models.EmergencyFire: `✅ *Fire Engine Dispatched!*

⏱️ *ETA:* 6-10 minutes
📞 *Firefighters will contact you*

*Immediately:*
• Evacuate everyone
• Close all doors
• Don't use elevators
• Gather at safe distance`,

	models.EmergencyPolice: `✅ *Police Patrol Dispatched!*

⏱️ *ETA:* 5-9 minutes
📞 *Officer will call for details*

*Please:*
• Stay in safe location
• Secure premises
• Keep phone ready
• Note suspect details`,
}

// LocationPrompt returns the prompt asking the user for their location after
// they picked an emergency type.
func LocationPrompt(et models.EmergencyType) string {
	name, ok := emergencyNames[et]
	if !ok {
		name = "Emergency"
	}
	return "📍 *" + name + " Selected*\n\n" +
		"Please share your location:\n" +
		"• Tap 📎 *attachment* icon\n" +
		"• Select *Location*\n" +
		"• Send your current location\n\n" +
		"*OR* type your address manually."
}

// Confirmation returns the dispatch confirmation for the given emergency type.
func Confirmation(et models.EmergencyType) string {
	if msg, ok := confirmations[et]; ok {
		return msg
	}
	return "✅ Help is on the way!"
}
