package reportapi

import (
	"strings"
)

// Params is the request parameter mapping built from a search form.
type Params map[string]any

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p overlaid with other.
func (p Params) Merge(other Params) Params {
	out := p.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Convention is how one endpoint expects form fields to be named: renamed
// fields win over the prefix.
type Convention struct {
	Prefix  string            `json:"prefix,omitempty" yaml:"prefix"`
	Renames map[string]string `json:"renames,omitempty" yaml:"renames"`
}

// Apply returns params with names rewritten for the wire. Keys that already
// carry the prefix are left untouched.
func (c Convention) Apply(params Params) Params {
	out := make(Params, len(params))
	for k, v := range params {
		out[c.name(k)] = v
	}
	return out
}

func (c Convention) name(key string) string {
	if renamed, ok := c.Renames[key]; ok {
		return renamed
	}
	if c.Prefix == "" || strings.HasPrefix(key, c.Prefix) {
		return key
	}
	return c.Prefix + key
}
