package strategy

import "github.com/rewired-gh/wheelwatch/internal/models"

// DisplayText renders the player-facing hint for a state.
func DisplayText(state models.State, terminals []int) string {
	switch state {
	case models.StateTriggered:
		return "BET ON: " + joinInts(terminals)
	case models.StatePostAdjustNeutral:
		return "SECOND ATTEMPT: " + joinInts(terminals)
	case models.StateExhausted:
		return "WAITING FOR NEXT CYCLE"
	default:
		return "WAITING FOR TRIGGER"
	}
}
