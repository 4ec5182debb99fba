package feed

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

var kindPattern = regexp.MustCompile(`^[a-z][a-z_]*$`)

// validator checks event records against the embedded schema.
// cue.Context is not safe for concurrent use, so checks are serialized.
type validator struct {
	mu    sync.Mutex
	ctx   *cue.Context
	kinds cue.Value
}

var loadValidator = sync.OnceValues(func() (*validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile feed schema: %w", err)
	}
	return &validator{ctx: ctx, kinds: v.LookupPath(cue.ParsePath("kinds"))}, nil
})

// knows reports whether the schema defines kind.
func (v *validator) knows(kind string) bool {
	if !kindPattern.MatchString(kind) {
		return false
	}
	return v.kinds.LookupPath(cue.ParsePath(kind)).Exists()
}

// check validates one JSON-encoded record of a known kind and returns one
// message per violation.
func (v *validator) check(kind string, record []byte) []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	value := v.ctx.CompileBytes(record)
	if err := value.Err(); err != nil {
		return []string{err.Error()}
	}
	def := v.kinds.LookupPath(cue.ParsePath(kind))
	err := def.Unify(value).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var out []string
	for _, e := range cueerrors.Errors(err) {
		out = append(out, describe(e, kind))
	}
	return out
}

// describe renders a CUE error relative to the event record.
func describe(e cueerrors.Error, kind string) string {
	format, args := e.Msg()
	msg := fmt.Sprintf(format, args...)

	path := e.Path()
	if len(path) >= 2 && path[0] == "kinds" && path[1] == kind {
		path = path[2:]
	}
	if len(path) == 0 {
		return msg
	}
	return strings.Join(path, ".") + ": " + msg
}
