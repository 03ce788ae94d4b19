package model

import "fmt"

// Validate checks that the show has a name and every target is complete.
// An empty target list is valid.
func (s *Show) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: show name required", ErrInvalid)
	}
	for i, t := range s.Targets {
		if t.Instance == "" || t.State == "" {
			return fmt.Errorf("%w: show %s target %d needs instance and state", ErrInvalid, s.Name, i)
		}
	}
	return nil
}

// Validate checks the instance identifier and endpoint.
func (i *Instance) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("%w: instance identifier required", ErrInvalid)
	}
	if i.URL == "" {
		return fmt.Errorf("%w: instance %s url required", ErrInvalid, i.ID)
	}
	return nil
}
