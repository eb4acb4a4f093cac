// Package doctor reports whether the host can run sedock.
package doctor

import (
	"fmt"
	"io"

	"github.com/majorcontext/sedock/internal/ui"
)

// Section is one diagnostic topic.
type Section interface {
	// Name is the section heading, e.g. "Docker".
	Name() string

	// Print writes the section body. An error marks the section failed
	// after whatever was written.
	Print(w io.Writer) error
}

// Registry holds sections in registration order.
type Registry struct {
	sections []Section
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends s.
func (r *Registry) Register(s Section) {
	r.sections = append(r.sections, s)
}

// Sections returns the registered sections.
func (r *Registry) Sections() []Section {
	return r.sections
}

// Run prints every section under its heading and returns the number that
// failed. A failing section does not stop the others.
func (r *Registry) Run(w io.Writer) int {
	failed := 0
	for _, s := range r.sections {
		ui.Section(w, s.Name())
		if err := s.Print(w); err != nil {
			fmt.Fprintf(w, "%s %v\n", ui.FailTag(), err)
			failed++
		}
		fmt.Fprintln(w)
	}
	return failed
}
