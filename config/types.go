package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration for yaml (un)marshalling in the
// `300ms`/`2m`/`1h` notation.
type Duration time.Duration

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("wrong duration %q: %w", s, err)
	}
	if v < 0 {
		return fmt.Errorf("duration must not be negative, got %q", s)
	}

	*d = Duration(v)
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
