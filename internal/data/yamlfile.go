package data

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"obs-showctl/internal/model"
)

// ImportFile is the bulk-import document:
//
//	instances:
//	  - identifier: cam-a
//	    url: ws://10.0.0.5:4455
//	    password: secret
//	shows:
//	  - name: opening
//	    targets:
//	      - instance: cam-a
//	        state: Intro
type ImportFile struct {
	Instances []model.Instance `yaml:"instances"`
	Shows     []model.Show     `yaml:"shows"`
}

// DecodeImportFile parses and validates an import document.
func DecodeImportFile(r io.Reader) (*ImportFile, error) {
	var f ImportFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode import file: %v", model.ErrInvalid, err)
	}
	for i := range f.Instances {
		if err := f.Instances[i].Validate(); err != nil {
			return nil, err
		}
	}
	seen := make(map[string]bool, len(f.Shows))
	for i := range f.Shows {
		if err := f.Shows[i].Validate(); err != nil {
			return nil, err
		}
		if seen[f.Shows[i].Name] {
			return nil, fmt.Errorf("%w: show %s listed twice", model.ErrInvalid, f.Shows[i].Name)
		}
		seen[f.Shows[i].Name] = true
		if f.Shows[i].Targets == nil {
			f.Shows[i].Targets = []model.TargetState{}
		}
	}
	return &f, nil
}

// Import writes the document into the store. Existing shows are replaced
// only when replace is set; otherwise they are reported as ErrAlreadyExists.
func (f *ImportFile) Import(ctx context.Context, store ConfigStore, replace bool) error {
	for _, inst := range f.Instances {
		if err := store.SaveInstance(ctx, inst); err != nil {
			return err
		}
	}
	for i := range f.Shows {
		show := &f.Shows[i]
		err := store.CreateShow(ctx, show)
		if errors.Is(err, model.ErrAlreadyExists) && replace {
			err = store.ReplaceShow(ctx, show.Name, show)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
