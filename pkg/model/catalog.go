package model

import (
	"os"

	"github.com/modelpull/modelpull/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Catalog is the parsed contents of a models.yaml file: the set of model
// descriptors the host application knows how to acquire. Several versions of
// the same model id may coexist.
type Catalog struct {
	Models []Descriptor `yaml:"models"`
}

// LoadCatalog reads and validates a yaml model catalog from disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read model catalog %s", path)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrapf(err, "could not parse model catalog %s", path)
	}
	for i := range c.Models {
		if err := c.Models[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// Find returns the descriptor with the given id. When multiple versions are
// present the highest parseable version wins; unversioned entries lose to
// versioned ones.
func (c *Catalog) Find(id string) (*Descriptor, error) {
	var best *Descriptor
	for i := range c.Models {
		d := &c.Models[i]
		if d.ID != id {
			continue
		}
		if best == nil {
			best = d
			continue
		}
		bv, dv := best.GetVersion(), d.GetVersion()
		switch {
		case bv == nil && dv != nil:
			best = d
		case bv != nil && dv != nil && dv.GreaterThan(bv):
			best = d
		}
	}
	if best == nil {
		return nil, errors.Wrapf(errors.ErrModelNotFound, "model %q not in catalog", id)
	}
	return best, nil
}

// FindVersion returns the descriptor with the given id and exact version.
func (c *Catalog) FindVersion(id, ver string) (*Descriptor, error) {
	for i := range c.Models {
		d := &c.Models[i]
		if d.ID == id && d.Version == ver {
			return d, nil
		}
	}
	return nil, errors.Wrapf(errors.ErrModelNotFound, "model %q version %q not in catalog", id, ver)
}
