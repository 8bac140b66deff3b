// Package output renders shelf results for the terminal in several formats
// (pretty, plain, json, yaml).
//
// Commands build a Document from a core result and hand it to a formatter
// chosen at runtime from the registry:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, output.Detection(info)); err != nil {
//	    return err
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/jamesainslie/shelf/pkg/shelf/logging"
)

var logger = logging.Get("output")

// Field is a labelled value shown in a document header.
type Field struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// Section is a titled table.
type Section struct {
	Title   string     `json:"title" yaml:"title"`
	Columns []string   `json:"columns" yaml:"columns"`
	Rows    [][]string `json:"rows" yaml:"rows"`

	// Empty is shown instead of the table when there are no rows.
	Empty string `json:"-" yaml:"-"`
}

// Document is a formatter-neutral view of a result.
type Document struct {
	Title    string    `json:"title" yaml:"title"`
	Fields   []Field   `json:"fields,omitempty" yaml:"fields,omitempty"`
	Sections []Section `json:"sections,omitempty" yaml:"sections,omitempty"`
	Warnings []string  `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	// Status is a closing one-line verdict, empty for none.
	Status string `json:"status,omitempty" yaml:"status,omitempty"`

	// Failed marks Status as a failure.
	Failed bool `json:"failed,omitempty" yaml:"failed,omitempty"`

	// Data is the structured value emitted by json and yaml. When nil the
	// document itself is emitted.
	Data any `json:"-" yaml:"-"`
}

// AddField appends a header field.
func (d *Document) AddField(label, value string) {
	d.Fields = append(d.Fields, Field{Label: label, Value: value})
}

// payload returns what the structured formatters encode.
func (d *Document) payload() any {
	if d.Data != nil {
		return d.Data
	}
	return d
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted document to the buffer.
	Format(w *bytes.Buffer, d *Document) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry, replacing any existing
// formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		logger.Debug("unknown formatter requested", "name", name)
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
