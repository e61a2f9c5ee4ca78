package entity

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/roach88/mutual/internal/compiler"
)

// KindFile is the CUE declaration of the persisted kinds.
//
//go:embed kinds.cue
var KindFile []byte

// CompileKinds compiles and validates KindFile.
func CompileKinds() (Kinds, error) {
	specs, err := compiler.CompileSource("kinds.cue", KindFile)
	if err != nil {
		return Kinds{}, err
	}
	if errs := compiler.Validate(specs); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i := range errs {
			joined[i] = errs[i]
		}
		return Kinds{}, fmt.Errorf("kinds.cue: %w", errors.Join(joined...))
	}
	return KindsFrom(specs)
}
