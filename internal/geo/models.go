// Package geo is the Region → Prefecture → StructureLocale registry that scopes
// agents and declarations.
package geo

import (
	"strings"

	id "togoretrouve/pkg/domain"
	dErrors "togoretrouve/pkg/domain-errors"
)

type Region struct {
	ID   id.RegionID `json:"id"`
	Name string      `json:"name"`
}

// Prefecture belongs to exactly one Region, fixed at creation.
type Prefecture struct {
	ID       id.PrefectureID `json:"id"`
	RegionID id.RegionID     `json:"region_id"`
	Name     string          `json:"name"`
}

// StructureKind is the type of a local structure.
type StructureKind string

const (
	KindCommissariat StructureKind = "commissariat"
	KindMairie       StructureKind = "mairie"
	KindAutre        StructureKind = "autre"
)

func ParseStructureKind(s string) (StructureKind, error) {
	switch k := StructureKind(s); k {
	case KindCommissariat, KindMairie, KindAutre:
		return k, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "structure type must be one of commissariat, mairie, autre")
	}
}

// Structure is a StructureLocale: the smallest jurisdiction unit.
type Structure struct {
	ID           id.StructureID  `json:"id"`
	PrefectureID id.PrefectureID `json:"prefecture_id"`
	Name         string          `json:"name"`
	Kind         StructureKind   `json:"type"`
	Address      string          `json:"address,omitempty"`
	Phone        string          `json:"phone,omitempty"`
}

// NewStructure validates a structure before it is added to the registry.
func NewStructure(structureID id.StructureID, prefectureID id.PrefectureID, name string, kind StructureKind, address, phone string) (*Structure, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "structure name is required")
	}
	if len(name) > 200 {
		return nil, dErrors.New(dErrors.CodeValidation, "structure name must be 200 characters or less")
	}
	if prefectureID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "prefecture is required")
	}
	return &Structure{
		ID:           structureID,
		PrefectureID: prefectureID,
		Name:         name,
		Kind:         kind,
		Address:      strings.TrimSpace(address),
		Phone:        strings.TrimSpace(phone),
	}, nil
}

// Jurisdiction is a structure with its derived prefecture and region.
type Jurisdiction struct {
	Structure  Structure  `json:"structure"`
	Prefecture Prefecture `json:"prefecture"`
	Region     Region     `json:"region"`
}
