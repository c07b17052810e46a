package config

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource []byte

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error
)

func experimentSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Experiment"))
		if !schemaDef.Exists() {
			schemaErr = fmt.Errorf("schema has no #Experiment definition")
		}
	})
	return schemaCtx, schemaDef, schemaErr
}

// checkSchema unifies the YAML document with #Experiment and reports every
// violation with the line it occurs on.
func checkSchema(filename string, data []byte) []ValidationError {
	ctx, def, err := experimentSchema()
	if err != nil {
		return []ValidationError{{Field: "schema", Message: err.Error(), Code: ErrSchemaViolation}}
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return []ValidationError{{Field: "yaml", Message: err.Error(), Code: ErrYAMLSyntax, Line: firstLine(err, filename)}}
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fromCUE(err, filename)
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fromCUE(err, filename)
	}
	return nil
}

func fromCUE(err error, filename string) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
			Code:    ErrSchemaViolation,
			Line:    firstLine(e, filename),
		})
	}
	return out
}

// firstLine prefers a position inside the configuration file over one in
// the schema.
func firstLine(err error, filename string) int {
	line := 0
	for _, p := range cueerrors.Positions(err) {
		if !p.IsValid() {
			continue
		}
		if p.Filename() == filename {
			return p.Line()
		}
		if line == 0 {
			line = p.Line()
		}
	}
	return line
}
