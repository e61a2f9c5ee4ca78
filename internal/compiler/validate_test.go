package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mutual/internal/ir"
)

func validKind(name string) ir.KindSpec {
	return ir.KindSpec{
		Name:      name,
		Store:     ir.StoreSplit,
		EncryptTo: ir.EncryptSelf,
		Public:    []ir.PropertySpec{{Name: "title", Type: ir.TypeString}},
		Private:   []ir.PropertySpec{{Name: "groups", Type: ir.TypeList}},
	}
}

func codes(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}

func TestValidateValid(t *testing.T) {
	assert.Empty(t, Validate([]ir.KindSpec{validKind("User"), validKind("Group")}))
}

func TestValidateDuplicateKind(t *testing.T) {
	errs := Validate([]ir.KindSpec{validKind("User"), validKind("User")})
	assert.Equal(t, []string{ErrDuplicateKind}, codes(errs))
}

func TestValidateKindErrorCarriesField(t *testing.T) {
	k := validKind("User")
	k.Private = append(k.Private, ir.PropertySpec{Name: "title", Type: ir.TypeString})

	errs := Validate([]ir.KindSpec{k})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrKindInvalid, errs[0].Code)
	assert.Equal(t, "title", errs[0].Field)
	assert.Equal(t, "[E101] User.title: declared twice", errs[0].Error())
}

func TestValidateVersionedNeedsAntecedent(t *testing.T) {
	k := ir.KindSpec{
		Name:      "Message",
		Store:     ir.StoreVersioned,
		EncryptTo: ir.EncryptOwner,
		Public:    []ir.PropertySpec{{Name: "text", Type: ir.TypeString}},
	}
	assert.Equal(t, []string{ErrMissingAntecedent}, codes(Validate([]ir.KindSpec{k})))

	k.Public = append(k.Public, ir.PropertySpec{Name: "antecedent", Type: ir.TypeString})
	assert.Empty(t, Validate([]ir.KindSpec{k}))
}

func TestValidateSplitEncryptsToSelf(t *testing.T) {
	k := validKind("User")
	k.EncryptTo = ir.EncryptOwner
	assert.Equal(t, []string{ErrOwnerTargetPrivate}, codes(Validate([]ir.KindSpec{k})))
}

func TestValidateCollectsAll(t *testing.T) {
	bad := validKind("User")
	bad.Store = "nope"
	errs := Validate([]ir.KindSpec{bad, validKind("User")})
	assert.Equal(t, []string{ErrKindInvalid, ErrDuplicateKind}, codes(errs))
}
