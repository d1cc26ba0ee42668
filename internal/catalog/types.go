package catalog

import (
	"fmt"
	"time"
)

// Kind selects how a tag's value evolves over time
type Kind string

const (
	KindConstant Kind = "constant"
	KindSine     Kind = "sine"
	KindRamp     Kind = "ramp"
	KindRandom   Kind = "random"
)

// Default values
const (
	DefaultPeriod = time.Minute
)

// Definition describes one tag of the catalog
type Definition struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Units       string        `yaml:"units,omitempty"`
	Kind        Kind          `yaml:"kind"`
	Value       float64       `yaml:"value"`
	Amplitude   float64       `yaml:"amplitude,omitempty"`
	Period      time.Duration `yaml:"period,omitempty"`
}

// File is the on-disk layout of a catalog
type File struct {
	Tags []Definition `yaml:"tags"`
}

// LoadError describes a catalog that could not be loaded
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
