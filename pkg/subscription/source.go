package subscription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogSource defines how the plan catalog is loaded.
type CatalogSource interface {
	Load(ctx context.Context) (*Catalog, error)
}

type inMemSource struct {
	plans []Plan
}

// NewInMemSource returns a source serving the given plans.
func NewInMemSource(plans ...Plan) CatalogSource {
	return &inMemSource{plans: plans}
}

func (s *inMemSource) Load(context.Context) (*Catalog, error) {
	return NewCatalog(s.plans...)
}

type catalogFile struct {
	Plans []Plan `yaml:"plans"`
}

type fileSource struct {
	path string
}

// NewFileSource returns a source reading a YAML catalog:
//
//	plans:
//	  - id: basic_plan
//	    price_id: price_1Abc
//	    name: Basic Plan
//	    price: {amount: 1000, currency: USD}
//	    keys: 100
//	    interval: month
//	    rank: 1
func NewFileSource(path string) CatalogSource {
	return &fileSource{path: path}
}

func (s *fileSource) Load(ctx context.Context) (*Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("read catalog file: %w", err))
	}

	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog document. Unknown fields are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("decode catalog: %w", err))
	}

	return NewCatalog(doc.Plans...)
}
