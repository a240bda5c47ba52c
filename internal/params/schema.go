package params

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaSource renders the registry as a CUE definition #Document. Every
// section is closed, so unknown keys are rejected along with bad kinds and
// out-of-range values.
func SchemaSource() string {
	var b strings.Builder
	b.WriteString("#Document: {\n")
	for _, c := range Categories {
		fmt.Fprintf(&b, "\t%s: {\n", c)
		for _, p := range Registry {
			if p.Category != c {
				continue
			}
			fmt.Fprintf(&b, "\t\t%s: %s\n", p.Name, constraint(p))
		}
		b.WriteString("\t}\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func constraint(p Bound) string {
	parts := []string{"number"}
	if p.Kind == Int {
		parts[0] = "int"
	}
	if p.Min.Set {
		parts = append(parts, ">="+cueNumber(p.Min.Value))
	}
	if p.Max.Set {
		parts = append(parts, "<="+cueNumber(p.Max.Value))
	}
	if p.MaxParam != "" {
		parts = append(parts, "<="+p.MaxParam)
	}
	return strings.Join(parts, " & ")
}

func cueNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var compiledSchema = sync.OnceValues(func() (cue.Value, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(SchemaSource(), cue.Filename("params.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compiling params schema: %w", err)
	}
	return v.LookupPath(cue.ParsePath("#Document")), nil
})

// CheckSchema validates a JSON document against SchemaSource.
func CheckSchema(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	doc := schema.Context().CompileBytes(data, cue.Filename("params.json"))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}
	return schema.Unify(doc).Validate(cue.Concrete(true))
}
