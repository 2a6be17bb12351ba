package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/CarPulse/internal/models"
)

// Choice labels. Commands are matched case-insensitively.
const (
	LabelList           = "List cars"
	LabelSpecs          = "Specs"
	LabelCompare        = "Compare cars"
	LabelChart          = "Price chart"
	LabelCompareSeveral = "Compare several"
	LabelCancel         = "Cancel"
)

// User-facing texts.
const (
	MsgWelcome             = "Welcome to CarPulse! Choose an action:"
	MsgHelp                = "I did not understand that. Choose an action:"
	MsgNext                = "What would you like to do next?"
	MsgListHeader          = "Available cars:"
	MsgEmptyCatalog        = "The catalog is empty."
	MsgSpecsPrompt         = "Choose a car to see its specifications:"
	MsgChartTargetPrompt   = "Choose a car for the price chart or compare several:"
	MsgFirstVehiclePrompt  = "Choose the first car to compare:"
	MsgSecondVehiclePrompt = "Selected: %s. Choose the second car to compare:"
	MsgPeriodPrompt        = "Choose the period for the chart:"
	MsgUnknownVehicle      = "That car is not in the list. Try again."
	MsgUnknownPeriod       = "Please choose one of the offered periods."
	MsgCancelled           = "Action cancelled."
	MsgRenderFailed        = "Could not build the chart. Check the data or try again later."
	MsgGenericFailure      = "Something went wrong. Please try again."
)

// MenuLabels are the main menu choices offered in Idle.
var MenuLabels = []string{LabelList, LabelSpecs, LabelCompare, LabelChart}

// PeriodChoice maps a period button to the window it selects.
type PeriodChoice struct {
	Label  string
	Window models.Window
}

// DefaultPeriodChoices are the period buttons offered before rendering a chart.
var DefaultPeriodChoices = []PeriodChoice{
	{Label: "3 months", Window: models.Window{Last: 3}},
	{Label: "5 months", Window: models.Window{Last: 5}},
	{Label: "All months", Window: models.AllPeriods},
}

func formatList(vehicles []models.Vehicle) string {
	if len(vehicles) == 0 {
		return MsgEmptyCatalog
	}
	var b strings.Builder
	b.WriteString(MsgListHeader)
	for _, v := range vehicles {
		fmt.Fprintf(&b, "\n%s: $%d", v.Name, v.Price)
	}
	return b.String()
}

func formatSpecs(v models.Vehicle) string {
	return fmt.Sprintf("%s specifications:\nPrice: $%d\nHorsepower: %d hp\nFuel economy: %s\nYear: %d\nEngine: %s\nCountry: %s",
		v.Name, v.Price, v.Horsepower, v.FuelEconomy, v.Year, v.EngineType, v.Country)
}

func formatComparison(a, b models.Vehicle) string {
	return fmt.Sprintf("Comparison of %s and %s:\n\nPrice: $%d | $%d\nHorsepower: %d hp | %d hp\nFuel economy: %s | %s\nYear: %d | %d\nEngine: %s | %s\nCountry: %s | %s",
		a.Name, b.Name,
		a.Price, b.Price,
		a.Horsepower, b.Horsepower,
		a.FuelEconomy, b.FuelEconomy,
		a.Year, b.Year,
		a.EngineType, b.EngineType,
		a.Country, b.Country)
}

// chartCaption describes a rendered chart, e.g. "Price chart for A over the last 3 months".
func chartCaption(names []string, w models.Window) string {
	if len(names) == 1 {
		return fmt.Sprintf("Price chart for %s over %s", names[0], w.Describe())
	}
	return fmt.Sprintf("Price comparison for %s over %s", strings.Join(names, " vs "), w.Describe())
}
