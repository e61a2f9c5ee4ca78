package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/mutual/internal/ir"
)

// CompileSource compiles a CUE document and returns every kind under its
// top-level "kind" struct, in declaration order.
func CompileSource(filename string, src []byte) ([]ir.KindSpec, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileKinds(v)
}

// CompileKinds compiles each field of v's "kind" struct.
func CompileKinds(v cue.Value) ([]ir.KindSpec, error) {
	kindsVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindsVal.Exists() {
		return nil, &CompileError{Field: "kind", Message: "no kinds declared", Pos: v.Pos()}
	}
	iter, err := kindsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var specs []ir.KindSpec
	for iter.Next() {
		spec, err := CompileKind(iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}
	return specs, nil
}

// CompileKind parses one kind struct. The kind's name is the struct's label:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`kind: Member: { store: "encrypted", ... }`)
//	spec, err := CompileKind(v.LookupPath(cue.ParsePath("kind.Member")))
func CompileKind(v cue.Value) (*ir.KindSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.KindSpec{EncryptTo: ir.EncryptSelf}
	if sels := v.Path().Selectors(); len(sels) > 0 {
		spec.Name = sels[len(sels)-1].String()
	}

	storeVal := v.LookupPath(cue.ParsePath("store"))
	if !storeVal.Exists() {
		return nil, &CompileError{Field: "store", Message: "store is required", Pos: v.Pos()}
	}
	mode, err := storeVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	spec.Store = ir.StoreMode(mode)

	if target := v.LookupPath(cue.ParsePath("encrypt_to")); target.Exists() {
		s, err := target.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.EncryptTo = ir.EncryptTarget(s)
	}

	if spec.Public, err = parseProperties(v, "public"); err != nil {
		return nil, err
	}
	if spec.Private, err = parseProperties(v, "private"); err != nil {
		return nil, err
	}
	return spec, nil
}

// parseProperties reads a property struct in declaration order.
func parseProperties(v cue.Value, field string) ([]ir.PropertySpec, error) {
	val := v.LookupPath(cue.ParsePath(field))
	if !val.Exists() {
		return nil, nil
	}
	iter, err := val.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var props []ir.PropertySpec
	for iter.Next() {
		pv := iter.Value()
		typ, err := extractType(pv)
		if err != nil {
			return nil, err
		}
		prop := ir.PropertySpec{Name: iter.Label(), Type: typ}
		if d, ok := pv.Default(); ok && d.IsConcrete() {
			if prop.Default, err = concreteValue(d, typ); err != nil {
				return nil, err
			}
		}
		props = append(props, prop)
	}
	return props, nil
}

// extractType maps a CUE type to a property type. Floats are forbidden:
// canonical payloads carry no floats, so decimals travel as amount strings.
func extractType(v cue.Value) (ir.PropertyType, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		if attr := v.Attribute("mutual"); attr.Err() == nil {
			if s, _ := attr.String(0); s == "amount" {
				return ir.TypeAmount, nil
			}
		}
		return ir.TypeString, nil
	case cue.IntKind:
		return ir.TypeInt, nil
	case cue.BoolKind:
		return ir.TypeBool, nil
	case cue.ListKind:
		if err := requireStringElems(v, cue.AnyIndex); err != nil {
			return "", err
		}
		return ir.TypeList, nil
	case cue.StructKind:
		if err := requireStringElems(v, cue.AnyString); err != nil {
			return "", err
		}
		return ir.TypeMap, nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden; use an @mutual(amount) string",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// requireStringElems checks that list elements or map values are strings.
func requireStringElems(v cue.Value, sel cue.Selector) error {
	elem := v.LookupPath(cue.MakePath(sel))
	if !elem.Exists() {
		return nil
	}
	if elem.IncompleteKind() != cue.StringKind {
		return &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("collections hold strings, not %v", elem.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
	return nil
}

func concreteValue(v cue.Value, typ ir.PropertyType) (ir.IRValue, error) {
	var (
		out ir.IRValue
		err error
	)
	switch typ {
	case ir.TypeString, ir.TypeAmount:
		var s string
		s, err = v.String()
		out = ir.IRString(s)
	case ir.TypeInt:
		var n int64
		n, err = v.Int64()
		out = ir.IRInt(n)
	case ir.TypeBool:
		var b bool
		b, err = v.Bool()
		out = ir.IRBool(b)
	case ir.TypeList:
		var ss []string
		err = v.Decode(&ss)
		out = ir.Strings(ss)
	case ir.TypeMap:
		var m map[string]string
		err = v.Decode(&m)
		out = ir.StringMap(m)
	}
	if err != nil {
		return nil, formatCUEError(err)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
