package rbac

import (
	"context"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// TableSource provides the capability table at startup.
type TableSource interface {
	Load(ctx context.Context) (CapabilityTable, error)
}

type staticSource struct {
	table CapabilityTable
}

// NewStaticSource returns a source serving a deep copy of table.
func NewStaticSource(table CapabilityTable) TableSource {
	return &staticSource{table: table.Clone()}
}

func (s *staticSource) Load(context.Context) (CapabilityTable, error) {
	return s.table.Clone(), nil
}

type fileSource struct {
	path string
}

// NewFileSource returns a source reading a YAML capability table from path.
//
// File layout:
//
//	owner:
//	  modules: [dashboard, products]
//	  permissions: [products.read, products.write]
func NewFileSource(path string) TableSource {
	return &fileSource{path: path}
}

func (s *fileSource) Load(ctx context.Context) (CapabilityTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Join(ErrLoadTable, err)
	}
	defer f.Close()
	return ParseTable(f)
}

// ParseTable decodes a YAML capability table. Unknown fields are rejected.
func ParseTable(r io.Reader) (CapabilityTable, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var table CapabilityTable
	if err := dec.Decode(&table); err != nil {
		return nil, errors.Join(ErrLoadTable, err)
	}
	return table, nil
}
