package gridspec

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// ErrUnsupportedFile is returned for files that are neither CUE nor YAML.
var ErrUnsupportedFile = errors.New("gridspec: unsupported file extension")

// IsGridFile reports whether path has an extension LoadFile understands.
func IsGridFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFile loads every grid defined in a .cue, .yaml or .yml file,
// validated and sorted by name.
func LoadFile(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gridspec: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return ParseCUE(data, path)
	case ".yaml", ".yml":
		return ParseYAML(data, path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
}

// LoadDir loads every grid file under dir and returns the grids sorted by
// name. Grid names must be unique across the directory.
func LoadDir(dir string) ([]Spec, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsGridFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gridspec: scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, &SpecError{File: dir, Field: "load", Message: "no grid files found"}
	}

	var all []Spec
	seen := make(map[string]string)
	for _, path := range files {
		specs, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		for _, s := range specs {
			if prev, dup := seen[s.Name]; dup {
				return nil, s.errorf("grid."+s.Name, s.pos, "duplicate grid name, also defined in %s", prev)
			}
			seen[s.Name] = path
			all = append(all, s)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

// ParseCUE unifies data with the grid schema and decodes each grid.
// filename is used for error positions.
func ParseCUE(data []byte, filename string) ([]Spec, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("gridspec/schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("gridspec: compile schema: %w", err)
	}

	file := ctx.CompileBytes(data, cue.Filename(filename))
	if err := file.Err(); err != nil {
		return nil, formatCUEError(err, filename)
	}

	value := schema.Unify(file)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err, filename)
	}

	gridsVal := value.LookupPath(cue.ParsePath("grid"))
	if !gridsVal.Exists() {
		return nil, &SpecError{File: filename, Field: "grid", Message: "no grids defined"}
	}
	iter, err := gridsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err, filename)
	}

	var specs []Spec
	for iter.Next() {
		v := iter.Value()
		var s Spec
		if err := v.Decode(&s); err != nil {
			return nil, formatCUEError(err, filename)
		}
		s.Source = filename

		// Positions come from the file alone so they never point into
		// the embedded schema.
		src := file.LookupPath(cue.MakePath(cue.Str("grid"), cue.Str(iter.Label())))
		s.pos = src.Pos()
		if axesIter, err := src.LookupPath(cue.ParsePath("axes")).List(); err == nil {
			for i := 0; axesIter.Next() && i < len(s.Axes); i++ {
				s.Axes[i].pos = axesIter.Value().Pos()
			}
		}
		specs = append(specs, s)
	}
	return finish(specs, filename)
}

type yamlFile struct {
	Grid map[string]*Spec `yaml:"grid"`
}

// ParseYAML strictly decodes data; unknown fields are errors.
func ParseYAML(data []byte, filename string) ([]Spec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f yamlFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, &SpecError{File: filename, Field: "yaml", Message: err.Error()}
	}
	if len(f.Grid) == 0 {
		return nil, &SpecError{File: filename, Field: "grid", Message: "no grids defined"}
	}

	specs := make([]Spec, 0, len(f.Grid))
	for name, s := range f.Grid {
		if s == nil {
			return nil, &SpecError{File: filename, Field: "grid." + name, Message: "empty grid definition"}
		}
		s.Name = name
		s.Source = filename
		s.ApplyDefaults()
		specs = append(specs, *s)
	}
	return finish(specs, filename)
}

func finish(specs []Spec, filename string) ([]Spec, error) {
	if len(specs) == 0 {
		return nil, &SpecError{File: filename, Field: "grid", Message: "no grids defined"}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	for i := range specs {
		if err := specs[i].Validate(); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error, filename string) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &SpecError{File: filename, Field: "cue", Message: err.Error()}
	}

	// Return first error with position info
	first := errs[0]
	spe := &SpecError{File: filename, Field: "cue", Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		spe.Pos = positions[0]
	}
	return spe
}
