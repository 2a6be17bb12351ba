// Conversation states and intents.

package models

import "strings"

// StateType represents a specific state within the conversation flow
type StateType string

// Intent tags what a multi-vehicle selection is collected for
type Intent string

// Conversation states.
const (
	StateIdle                    StateType = "IDLE"
	StateAwaitingVehicleForSpecs StateType = "AWAITING_VEHICLE_FOR_SPECS"
	StateAwaitingChartTarget     StateType = "AWAITING_CHART_TARGET"
	StateAwaitingFirstVehicle    StateType = "AWAITING_FIRST_VEHICLE"
	StateAwaitingSecondVehicle   StateType = "AWAITING_SECOND_VEHICLE"
	StateAwaitingPeriodForChart  StateType = "AWAITING_PERIOD_FOR_CHART"
)

// Intent constants for the shared vehicle selection states.
const (
	IntentNone  Intent = ""
	IntentSpecs Intent = "specs"
	IntentChart Intent = "chart"
)

// IsValidState checks if the given state is part of the conversation flow.
func IsValidState(s StateType) bool {
	switch s {
	case StateIdle, StateAwaitingVehicleForSpecs, StateAwaitingChartTarget,
		StateAwaitingFirstVehicle, StateAwaitingSecondVehicle, StateAwaitingPeriodForChart:
		return true
	default:
		return false
	}
}

// reservedInputs are the commands the conversation engine matches before
// vehicle names, lowercased.
var reservedInputs = map[string]bool{
	"/start":          true,
	"/cancel":         true,
	"menu":            true,
	"cancel":          true,
	"list cars":       true,
	"specs":           true,
	"compare cars":    true,
	"price chart":     true,
	"compare several": true,
}

// IsReservedInput reports whether s would be read as a command or as a
// numbered choice instead of as a vehicle name.
func IsReservedInput(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if reservedInputs[s] {
		return true
	}
	return s != "" && strings.Trim(s, "0123456789") == ""
}
