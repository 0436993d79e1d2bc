package rpc

import (
	"slices"

	"smartapp-rpc/message"
)

// MethodInfo describes a visible method.
type MethodInfo struct {
	Name      string                  `json:"name" yaml:"name"`
	Arguments []ArgumentInfo          `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Returns   string                  `json:"returns,omitempty" yaml:"returns,omitempty"`
	Errors    []message.DeclaredError `json:"errors,omitempty" yaml:"errors,omitempty"`
	Tags      []string                `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// ArgumentInfo describes one argument field.
type ArgumentInfo struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required" yaml:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Catalog lists the methods not marked hidden, sorted by name.
func (r *Registry) Catalog() []MethodInfo {
	out := make([]MethodInfo, 0, len(r.names))
	for _, name := range r.names {
		d := r.methods[name].desc
		if d.Hidden {
			continue
		}
		info := MethodInfo{
			Name:    name,
			Returns: d.ResponseType,
			Errors:  slices.Clone(d.Errors),
			Tags:    slices.Clone(d.Tags),
		}
		if d.Arguments != nil {
			for _, f := range d.Arguments.Fields() {
				info.Arguments = append(info.Arguments, ArgumentInfo{
					Name:        f.Key(),
					Type:        f.Type.Name(),
					Required:    f.Required,
					Description: f.Description,
				})
			}
		}
		out = append(out, info)
	}
	return out
}
