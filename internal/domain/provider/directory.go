package provider

import (
	"fmt"
	"sort"
	"strings"
)

// Directory maps provider names to their adapters
type Directory map[string]Adapter

// NewDirectory indexes adapters by their lowercase name
func NewDirectory(adapters ...Adapter) Directory {
	d := make(Directory, len(adapters))
	for _, a := range adapters {
		d[strings.ToLower(a.Name())] = a
	}
	return d
}

// Get returns the adapter for a provider name
func (d Directory) Get(name string) (Adapter, error) {
	a, ok := d[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return a, nil
}

// Webhooks returns the webhook parser for a provider, if it accepts callbacks
func (d Directory) Webhooks(name string) (WebhookParser, error) {
	a, err := d.Get(name)
	if err != nil {
		return nil, err
	}
	wp, ok := a.(WebhookParser)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not accept webhooks", ErrUnknownProvider, name)
	}
	return wp, nil
}

// Names lists the configured providers in a stable order
func (d Directory) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
