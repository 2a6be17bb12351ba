// Package models defines the core data structures for CarPulse.
//
// It includes the vehicle catalog, the period-aligned price history, the
// per-user conversation session and the outbound actions produced by the
// conversation engine. These types are shared across modules.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultUnknown is the value used for optional vehicle attributes that are absent on load.
const DefaultUnknown = "Unknown"

// Error variables for better error handling and testability
var (
	ErrEmptyVehicleName     = errors.New("vehicle name cannot be empty")
	ErrDuplicateVehicle     = errors.New("vehicle already exists in catalog")
	ErrInvalidVehicleName   = errors.New("vehicle name cannot contain commas or line breaks")
	ErrInvalidVehicleField  = errors.New("vehicle attributes cannot contain commas or line breaks")
	ErrUntrimmedVehicle     = errors.New("vehicle name and attributes cannot start or end with spaces")
	ErrReservedVehicleName  = errors.New("vehicle name is a command word or a number")
	ErrUnknownVehicle       = errors.New("unknown vehicle")
	ErrNegativeVehicleValue = errors.New("vehicle price, horsepower and year must not be negative")
)

// Vehicle holds the static specification of one catalog entry.
// Name is the primary key.
type Vehicle struct {
	Name        string `json:"name"`
	Price       int    `json:"price"`
	Horsepower  int    `json:"horsepower"`
	FuelEconomy string `json:"fuel_economy"`
	Year        int    `json:"year"`
	EngineType  string `json:"engine_type"`
	Country     string `json:"country"`
}

// Validate checks the vehicle invariants that the flat file format relies on.
func (v Vehicle) Validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return ErrEmptyVehicleName
	}
	if strings.ContainsAny(v.Name, ",\r\n") {
		return ErrInvalidVehicleName
	}
	if IsReservedInput(v.Name) {
		return fmt.Errorf("%w: %q", ErrReservedVehicleName, v.Name)
	}
	// The flat file trims every field on load.
	for _, field := range []string{v.Name, v.FuelEconomy, v.EngineType, v.Country} {
		if field != strings.TrimSpace(field) {
			return fmt.Errorf("%w: %q", ErrUntrimmedVehicle, field)
		}
	}
	for _, field := range []string{v.FuelEconomy, v.EngineType, v.Country} {
		if strings.ContainsAny(field, ",\r\n") {
			return ErrInvalidVehicleField
		}
	}
	if v.Price < 0 || v.Horsepower < 0 || v.Year < 0 {
		return ErrNegativeVehicleValue
	}
	return nil
}

// WithDefaults fills absent optional attributes with DefaultUnknown.
func (v Vehicle) WithDefaults() Vehicle {
	if strings.TrimSpace(v.EngineType) == "" {
		v.EngineType = DefaultUnknown
	}
	if strings.TrimSpace(v.Country) == "" {
		v.Country = DefaultUnknown
	}
	return v
}

// Catalog is an ordered set of vehicles keyed by name.
// The zero value is an empty catalog ready for use.
type Catalog struct {
	vehicles []Vehicle
	index    map[string]int
}

// NewCatalog builds a catalog from the given vehicles, rejecting duplicates.
func NewCatalog(vehicles ...Vehicle) (Catalog, error) {
	var c Catalog
	for _, v := range vehicles {
		if err := c.Add(v); err != nil {
			return Catalog{}, err
		}
	}
	return c, nil
}

// Add appends a vehicle. The name must be valid and not already present.
func (c *Catalog) Add(v Vehicle) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if c.index == nil {
		c.index = make(map[string]int)
	}
	if _, exists := c.index[v.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVehicle, v.Name)
	}
	c.index[v.Name] = len(c.vehicles)
	c.vehicles = append(c.vehicles, v)
	return nil
}

// Put inserts a vehicle or replaces the existing entry with the same name,
// keeping its position.
func (c *Catalog) Put(v Vehicle) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if i, exists := c.index[v.Name]; exists {
		c.vehicles[i] = v
		return nil
	}
	return c.Add(v)
}

// Get returns the vehicle with the given name.
func (c Catalog) Get(name string) (Vehicle, bool) {
	i, ok := c.index[name]
	if !ok {
		return Vehicle{}, false
	}
	return c.vehicles[i], true
}

// Has reports whether the catalog contains a vehicle with the given name.
func (c Catalog) Has(name string) bool {
	_, ok := c.index[name]
	return ok
}

// Len returns the number of vehicles.
func (c Catalog) Len() int {
	return len(c.vehicles)
}

// Vehicles returns a copy of the vehicles in catalog order.
func (c Catalog) Vehicles() []Vehicle {
	out := make([]Vehicle, len(c.vehicles))
	copy(out, c.vehicles)
	return out
}

// Names returns the vehicle names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c.vehicles))
	for i, v := range c.vehicles {
		names[i] = v.Name
	}
	return names
}

// Clone returns an independent copy of the catalog.
func (c Catalog) Clone() Catalog {
	out := Catalog{
		vehicles: c.Vehicles(),
		index:    make(map[string]int, len(c.index)),
	}
	for k, v := range c.index {
		out.index[k] = v
	}
	return out
}
