package domain

import (
	"fmt"
	"strings"
)

// AdministrationKind is one of the three families of administrations whose
// data is collected. Each kind has its own value and lock tables.
type AdministrationKind string

// Administration kinds.
const (
	KindEstablishment        AdministrationKind = "establishment"
	KindDocumentaryStructure AdministrationKind = "documentary_structure"
	KindPhysicalLibrary      AdministrationKind = "physical_library"
)

// KindSpec carries the per-kind naming used by storage backends and messages.
type KindSpec struct {
	Kind AdministrationKind
	// Label is the human readable name used in lock messages.
	Label string
	// IDColumn names the administration foreign key column.
	IDColumn string
	// ValueTable and LockTable are the SQL tables of the kind.
	ValueTable string
	LockTable  string
}

var kindSpecs = map[AdministrationKind]KindSpec{
	KindEstablishment: {
		Kind:       KindEstablishment,
		Label:      "establishment",
		IDColumn:   "establishment_id",
		ValueTable: "establishment_data_values",
		LockTable:  "establishment_group_locks",
	},
	KindDocumentaryStructure: {
		Kind:       KindDocumentaryStructure,
		Label:      "documentary structure",
		IDColumn:   "documentary_structure_id",
		ValueTable: "documentary_structure_data_values",
		LockTable:  "documentary_structure_group_locks",
	},
	KindPhysicalLibrary: {
		Kind:       KindPhysicalLibrary,
		Label:      "physical library",
		IDColumn:   "physical_library_id",
		ValueTable: "physical_library_data_values",
		LockTable:  "physical_library_group_locks",
	},
}

// AllKinds lists the administration kinds in a stable order.
func AllKinds() []AdministrationKind {
	return []AdministrationKind{KindEstablishment, KindDocumentaryStructure, KindPhysicalLibrary}
}

// Spec returns the naming for k. It panics on an unknown kind; use
// ParseAdministrationKind to validate input first.
func (k AdministrationKind) Spec() KindSpec {
	spec, ok := kindSpecs[k]
	if !ok {
		panic(fmt.Sprintf("unknown administration kind %q", string(k)))
	}
	return spec
}

// Valid reports whether k is a known kind.
func (k AdministrationKind) Valid() bool {
	_, ok := kindSpecs[k]
	return ok
}

// ParseAdministrationKind accepts the canonical names plus a few short aliases.
func ParseAdministrationKind(s string) (AdministrationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "establishment", "establishments", "etab":
		return KindEstablishment, nil
	case "documentary_structure", "documentary-structure", "documentary_structures", "sd":
		return KindDocumentaryStructure, nil
	case "physical_library", "physical-library", "physical_libraries", "bp":
		return KindPhysicalLibrary, nil
	}
	return "", fmt.Errorf("unknown administration kind %q", s)
}
