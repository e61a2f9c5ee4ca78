package ir

import (
	"fmt"
	"slices"
)

// PropertyType is the declared type of a persisted property.
type PropertyType string

const (
	TypeString PropertyType = "string"
	TypeInt    PropertyType = "int"
	TypeBool   PropertyType = "bool"
	TypeList   PropertyType = "list"   // array of strings
	TypeMap    PropertyType = "map"    // object of strings
	TypeAmount PropertyType = "amount" // decimal carried as a string
)

// ValidTypes lists the property types a kind may declare.
var ValidTypes = []PropertyType{TypeString, TypeInt, TypeBool, TypeList, TypeMap, TypeAmount}

// Zero returns the in-memory default for a property of type t.
func (t PropertyType) Zero() IRValue {
	switch t {
	case TypeInt:
		return IRInt(0)
	case TypeBool:
		return IRBool(false)
	case TypeList:
		return IRArray{}
	case TypeMap:
		return IRObject{}
	default:
		return IRString("")
	}
}

// Accepts reports whether v may be stored in a property of type t.
func (t PropertyType) Accepts(v IRValue) bool {
	switch v.(type) {
	case nil, IRNull:
		return true
	case IRString:
		return t == TypeString || t == TypeAmount
	case IRInt:
		return t == TypeInt
	case IRBool:
		return t == TypeBool
	case IRArray:
		return t == TypeList
	case IRObject:
		return t == TypeMap
	}
	return false
}

// StoreMode selects which stores back a kind.
type StoreMode string

const (
	// StoreSplit is a plain store for public fields plus an encrypted store
	// for private fields, both addressed by the same tag.
	StoreSplit StoreMode = "split"
	// StoreEncrypted keeps every field in one encrypted store.
	StoreEncrypted StoreMode = "encrypted"
	// StoreVersioned appends encrypted entries to a hash-chained history.
	StoreVersioned StoreMode = "versioned"
)

// EncryptTarget names whose key seals a kind's encrypted payloads.
type EncryptTarget string

const (
	EncryptSelf  EncryptTarget = "self"  // the record's own tag
	EncryptOwner EncryptTarget = "owner" // the owning group's tag
)

// PropertySpec declares one persisted property.
type PropertySpec struct {
	Name    string       `json:"name"`
	Type    PropertyType `json:"type"`
	Default IRValue      `json:"default,omitempty"`
}

// Zero returns the declared default, or the type's zero value.
func (p PropertySpec) Zero() IRValue {
	if p.Default != nil {
		return Clone(p.Default)
	}
	return p.Type.Zero()
}

// KindSpec declares an entity kind: its persisted properties in canonical
// collection order and the stores that back it.
type KindSpec struct {
	Name      string         `json:"name"`
	Store     StoreMode      `json:"store"`
	EncryptTo EncryptTarget  `json:"encrypt_to"`
	Public    []PropertySpec `json:"public"`
	Private   []PropertySpec `json:"private,omitempty"`
}

// HasPrivate reports whether the kind carries a private half.
func (k KindSpec) HasPrivate() bool { return len(k.Private) > 0 }

// PublicProperty looks up a public property by name.
func (k KindSpec) PublicProperty(name string) (PropertySpec, bool) {
	i := slices.IndexFunc(k.Public, func(p PropertySpec) bool { return p.Name == name })
	if i < 0 {
		return PropertySpec{}, false
	}
	return k.Public[i], true
}

// PrivateProperty looks up a private property by name.
func (k KindSpec) PrivateProperty(name string) (PropertySpec, bool) {
	i := slices.IndexFunc(k.Private, func(p PropertySpec) bool { return p.Name == name })
	if i < 0 {
		return PropertySpec{}, false
	}
	return k.Private[i], true
}

// KindError reports a malformed kind declaration.
type KindError struct {
	Kind    string
	Field   string
	Message string
}

func (e *KindError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("kind %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("kind %s: %s: %s", e.Kind, e.Field, e.Message)
}

// Validate checks names, types and store mode. Split kinds need a private
// half; versioned and encrypted kinds must not declare one.
func (k KindSpec) Validate() error {
	if k.Name == "" {
		return &KindError{Kind: "?", Message: "name is required"}
	}
	switch k.Store {
	case StoreSplit:
		if !k.HasPrivate() {
			return &KindError{Kind: k.Name, Field: "store", Message: "split kinds declare private properties"}
		}
	case StoreEncrypted, StoreVersioned:
		if k.HasPrivate() {
			return &KindError{Kind: k.Name, Field: "store", Message: fmt.Sprintf("%s kinds have no private half", k.Store)}
		}
	default:
		return &KindError{Kind: k.Name, Field: "store", Message: fmt.Sprintf("unknown store mode %q", k.Store)}
	}
	switch k.EncryptTo {
	case EncryptSelf, EncryptOwner:
	default:
		return &KindError{Kind: k.Name, Field: "encrypt_to", Message: fmt.Sprintf("unknown target %q", k.EncryptTo)}
	}

	seen := make(map[string]bool)
	for _, group := range [][]PropertySpec{k.Public, k.Private} {
		for _, p := range group {
			if p.Name == "" {
				return &KindError{Kind: k.Name, Message: "property name is required"}
			}
			if seen[p.Name] {
				return &KindError{Kind: k.Name, Field: p.Name, Message: "declared twice"}
			}
			seen[p.Name] = true
			if !slices.Contains(ValidTypes, p.Type) {
				return &KindError{Kind: k.Name, Field: p.Name, Message: fmt.Sprintf("invalid type %q", p.Type)}
			}
			if p.Default != nil && !p.Type.Accepts(p.Default) {
				return &KindError{Kind: k.Name, Field: p.Name, Message: "default does not match type"}
			}
		}
	}
	return nil
}
