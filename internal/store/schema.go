package store

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// validateSchema unifies raw state JSON with #State. JSON is valid CUE, so
// the bytes compile directly.
func validateSchema(data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#State"))

	v := ctx.CompileBytes(data, cue.Filename("state.json"))
	if err := v.Err(); err != nil {
		return fmt.Errorf("parse state: %s", errors.Details(err, nil))
	}

	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("state does not match schema: %s", errors.Details(err, nil))
	}
	return nil
}
