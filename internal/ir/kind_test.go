package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validKind() KindSpec {
	return KindSpec{
		Name:      "Group",
		Store:     StoreSplit,
		EncryptTo: EncryptSelf,
		Public:    []PropertySpec{{Name: "name", Type: TypeString}, {Name: "picture", Type: TypeString}},
		Private:   []PropertySpec{{Name: "members", Type: TypeList}},
	}
}

func TestKindValidate(t *testing.T) {
	require.NoError(t, validKind().Validate())

	tests := []struct {
		name   string
		mutate func(*KindSpec)
		field  string
	}{
		{"split without private", func(k *KindSpec) { k.Private = nil }, "store"},
		{"versioned with private", func(k *KindSpec) { k.Store = StoreVersioned }, "store"},
		{"unknown store", func(k *KindSpec) { k.Store = "cloud" }, "store"},
		{"unknown target", func(k *KindSpec) { k.EncryptTo = "world" }, "encrypt_to"},
		{"duplicate", func(k *KindSpec) { k.Private = append(k.Private, PropertySpec{Name: "name", Type: TypeString}) }, "name"},
		{"bad type", func(k *KindSpec) { k.Public[0].Type = "float" }, "name"},
		{"bad default", func(k *KindSpec) { k.Public[0].Default = IRInt(1) }, "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := validKind()
			tt.mutate(&k)
			err := k.Validate()
			require.Error(t, err)
			var kerr *KindError
			require.ErrorAs(t, err, &kerr)
			assert.Equal(t, tt.field, kerr.Field)
		})
	}
}

func TestPropertyZero(t *testing.T) {
	assert.Equal(t, IRArray{}, PropertySpec{Type: TypeList}.Zero())
	assert.Equal(t, IRObject{}, PropertySpec{Type: TypeMap}.Zero())
	assert.Equal(t, IRString(""), PropertySpec{Type: TypeAmount}.Zero())
	assert.Equal(t, IRString("text"), PropertySpec{Type: TypeString, Default: IRString("text")}.Zero())
}

func TestKindLookup(t *testing.T) {
	k := validKind()
	p, ok := k.PublicProperty("picture")
	require.True(t, ok)
	assert.Equal(t, TypeString, p.Type)
	_, ok = k.PublicProperty("members")
	assert.False(t, ok)
	_, ok = k.PrivateProperty("members")
	assert.True(t, ok)
}
