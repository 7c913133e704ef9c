// Package schema declares the filterable views of stores and users. Field
// definitions are shared by reference between views, so a rule declared once
// applies to every view exposing the field.
package schema

import (
	"slices"
	"strings"

	"github.com/pitabwire/storefront/internal/filter"
)

// Storage paths understood by the storage layer. Dotted paths cross one
// relation hop.
const (
	PathName           = "name"
	PathCity           = "city"
	PathAddress        = "address"
	PathState          = "state_abbrv"
	PathPLZ            = "plz"
	PathOpeningTime    = "opening_time"
	PathClosingTime    = "closing_time"
	PathOwnerID        = "owner.id"
	PathOwnerFirst     = "owner.first_name"
	PathOwnerLast      = "owner.last_name"
	PathManagerID      = "managers.id"
	PathManagerFirst   = "managers.first_name"
	PathManagerLast    = "managers.last_name"
	PathEmail          = "email"
	PathFirstName      = "first_name"
	PathLastName       = "last_name"
	PathOwnedStoreID   = "owned_stores.id"
	PathManagedStoreID = "managed_stores.id"
)

// States maps the German state codes to their names.
var States = []filter.Choice{
	{Code: "BW", Label: "Baden-Württemberg"},
	{Code: "BY", Label: "Bayern"},
	{Code: "BE", Label: "Berlin"},
	{Code: "BB", Label: "Brandenburg"},
	{Code: "HB", Label: "Bremen"},
	{Code: "HH", Label: "Hamburg"},
	{Code: "HE", Label: "Hessen"},
	{Code: "MV", Label: "Mecklenburg-Vorpommern"},
	{Code: "NI", Label: "Niedersachsen"},
	{Code: "NW", Label: "Nordrhein-Westfalen"},
	{Code: "RP", Label: "Rheinland-Pfalz"},
	{Code: "SL", Label: "Saarland"},
	{Code: "SN", Label: "Sachsen"},
	{Code: "ST", Label: "Sachsen-Anhalt"},
	{Code: "SH", Label: "Schleswig-Holstein"},
	{Code: "TH", Label: "Thüringen"},
}

// stateChoices are the filter choices for state_abbrv, sorted by code and
// labelled "BE: Berlin".
func stateChoices() []filter.Choice {
	out := make([]filter.Choice, len(States))
	copy(out, States)
	for i := range out {
		out[i].Label = out[i].Code + ": " + out[i].Label
	}
	slices.SortFunc(out, func(a, b filter.Choice) int {
		return strings.Compare(a.Code, b.Code)
	})
	return out
}

// ValidState reports whether code is a known state code.
func ValidState(code string) bool {
	for _, s := range States {
		if s.Code == code {
			return true
		}
	}
	return false
}

func contains(name, path string, rules ...filter.Rule) *filter.FieldSpec {
	return &filter.FieldSpec{
		Name:        name,
		Kind:        filter.KindString,
		Operators:   []filter.Operator{filter.OpContains},
		StoragePath: path,
		Rules:       rules,
	}
}

func identifier(name, path, message string) *filter.FieldSpec {
	return &filter.FieldSpec{
		Name:           name,
		Kind:           filter.KindInteger,
		Operators:      []filter.Operator{filter.OpExact, filter.OpIn},
		StoragePath:    path,
		Minimum:        filter.Bound(1),
		MinimumMessage: message,
	}
}

func timeRange(name, path string) *filter.FieldSpec {
	return &filter.FieldSpec{
		Name:        name,
		Kind:        filter.KindTime,
		Operators:   []filter.Operator{filter.OpExact, filter.OpLTE, filter.OpGTE},
		StoragePath: path,
	}
}

func day(name string) *filter.FieldSpec {
	return &filter.FieldSpec{
		Name:      name,
		Kind:      filter.KindBoolean,
		Operators: []filter.Operator{filter.OpExact},
	}
}

// Store fields.
var (
	Name    = contains("name", PathName, filter.HasLetter())
	City    = contains("city", PathCity, filter.HasLetter())
	Address = contains("address", PathAddress, filter.HasDigitAndLetter())
	State   = &filter.FieldSpec{
		Name:        "state_abbrv",
		Kind:        filter.KindEnum,
		Operators:   []filter.Operator{filter.OpExact, filter.OpContains},
		StoragePath: PathState,
		Choices:     stateChoices(),
		MatchLabels: true,
	}
	PLZ = &filter.FieldSpec{
		Name:        "plz",
		Kind:        filter.KindString,
		Operators:   []filter.Operator{filter.OpExact},
		StoragePath: PathPLZ,
		Rules:       []filter.Rule{filter.DigitsExactly(5)},
	}

	OwnerIDs       = identifier("owner_ids", PathOwnerID, "Invalid owner ID")
	OwnerFirstName = contains("owner_first_name", PathOwnerFirst, filter.HasLetter())
	OwnerLastName  = contains("owner_last_name", PathOwnerLast, filter.HasLetter())

	ManagerIDs       = identifier("manager_ids", PathManagerID, "Invalid manager ID")
	ManagerFirstName = contains("manager_first_name", PathManagerFirst, filter.HasLetter())
	ManagerLastName  = contains("manager_last_name", PathManagerLast, filter.HasLetter())

	OpeningTime = timeRange("opening_time", PathOpeningTime)
	ClosingTime = timeRange("closing_time", PathClosingTime)

	Montag     = day("montag")
	Dienstag   = day("dienstag")
	Mittwoch   = day("mittwoch")
	Donnerstag = day("donnerstag")
	Freitag    = day("freitag")
	Samstag    = day("samstag")
	Sonntag    = day("sonntag")
)

// User fields.
var (
	Email         = contains("email", PathEmail)
	FirstName     = contains("first_name", PathFirstName, filter.HasLetter())
	LastName      = contains("last_name", PathLastName, filter.HasLetter())
	OwnedStores   = identifier("owned_stores", PathOwnedStoreID, "Invalid store ID")
	ManagedStores = identifier("managed_stores", PathManagedStoreID, "Invalid store ID")
)

// Days lists the opening-day fields, Monday first.
var Days = []*filter.FieldSpec{Montag, Dienstag, Mittwoch, Donnerstag, Freitag, Samstag, Sonntag}
