package session

import (
	"errors"
	"fmt"

	"github.com/saltfish/backtestlab/internal/domain"
)

// replaceParamsLocked installs a new schema with default values and
// {default, default, 0} ranges. The three maps always share one key set.
func (s *Session) replaceParamsLocked(defs []domain.ParameterDef) {
	values := make(domain.ParamValues, len(defs))
	ranges := make(domain.ParamRanges, len(defs))
	kept := make([]domain.ParameterDef, 0, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			continue
		}
		if _, dup := values[d.Name]; dup {
			continue
		}
		d.Type = domain.ParamTypeFromString(string(d.Type))
		kept = append(kept, d)
		values[d.Name] = d.DefaultValue()
		// String parameters seed {0, 0, 0}; the service does not sweep them.
		def := d.DefaultNumber()
		ranges[d.Name] = domain.ParamRange{Start: def, End: def, Step: 0}
	}
	s.defs = kept
	s.values = values
	s.ranges = ranges
}

func (s *Session) clearParamsLocked() {
	s.paramsGen++
	s.defs = nil
	s.values = domain.ParamValues{}
	s.ranges = domain.ParamRanges{}
	s.paramsLoading = false
	s.paramsFailed = false
}

func (s *Session) paramDefLocked(name string) (domain.ParameterDef, bool) {
	for _, d := range s.defs {
		if d.Name == name {
			return d, true
		}
	}
	return domain.ParameterDef{}, false
}

// Params returns the parameter schema of the selected strategy.
func (s *Session) Params() []domain.ParameterDef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ParameterDef(nil), s.defs...)
}

// ParamValues returns the concrete values used by single-mode submissions.
func (s *Session) ParamValues() domain.ParamValues {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Clone()
}

// ParamRanges returns the sweep ranges used by optimization submissions.
func (s *Session) ParamRanges() domain.ParamRanges {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ranges.Clone()
}

// SetParamValue parses raw according to the parameter's declared type.
// Unparsable numeric input is stored as 0.
func (s *Session) SetParamValue(name, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEditableLocked(); err != nil {
		return err
	}
	def, ok := s.paramDefLocked(name)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownParameter, name)
	}
	s.values[name] = domain.ParseParamValue(def.Type, raw)
	s.notifyLocked()
	return nil
}

// SetParamRange parses raw as a decimal into one field of a sweep range.
// Unparsable input is stored as 0; the other fields are left untouched.
func (s *Session) SetParamRange(name string, field domain.RangeField, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEditableLocked(); err != nil {
		return err
	}
	if !field.IsValid() {
		return domain.NewFieldError("field", fmt.Sprintf("%q must be one of start, end, step", field))
	}
	r, ok := s.ranges[name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownParameter, name)
	}
	s.ranges[name] = r.With(field, domain.ParseFloatInput(raw))
	s.notifyLocked()
	return nil
}

// validateRangesLocked rejects inverted or negative-step ranges.
func (s *Session) validateRangesLocked() error {
	var errs []error
	for _, d := range s.defs {
		r, ok := s.ranges[d.Name]
		if !ok || d.Type == domain.ParamTypeString {
			continue
		}
		if r.Start > r.End {
			errs = append(errs, domain.NewFieldError(d.Name, "start must not exceed end"))
		}
		if r.Step < 0 {
			errs = append(errs, domain.NewFieldError(d.Name, "step must not be negative"))
		}
	}
	return errors.Join(errs...)
}
