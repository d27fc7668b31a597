package screen

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/iota-uz/reportgrid/pkg/constants"
	"github.com/iota-uz/reportgrid/pkg/serrors"
)

//go:embed screens.yaml
var defaultCatalog []byte

var (
	ErrScreenNotFound = serrors.NewError("REPORTS_SCREEN_NOT_FOUND", "screen not found", "Reports.Errors.ScreenNotFound")
	ErrPopupNotFound  = serrors.NewError("REPORTS_POPUP_NOT_FOUND", "popup not found", "Reports.Errors.PopupNotFound")
)

type document struct {
	Screens []*Screen `yaml:"screens"`
}

// Catalog is the validated, read-only set of screens.
type Catalog struct {
	screens map[string]*Screen
	order   []string
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(bytes.NewReader(defaultCatalog))
}

// Load reads the catalog at path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open screen catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode screen catalog: %w", err)
	}
	return New(doc.Screens...)
}

// New validates screens and builds a catalog from them.
func New(screens ...*Screen) (*Catalog, error) {
	c := &Catalog{screens: make(map[string]*Screen, len(screens))}
	var errs []error
	for i, s := range screens {
		if s == nil {
			errs = append(errs, fmt.Errorf("screen #%d is empty", i+1))
			continue
		}
		if err := constants.Validate.Struct(s); err != nil {
			errs = append(errs, fmt.Errorf("screen %q: %w", s.Key, err))
			continue
		}
		if _, dup := c.screens[s.Key]; dup {
			errs = append(errs, fmt.Errorf("screen %q is declared twice", s.Key))
			continue
		}
		if len(s.DefaultFilterColumns) == 0 {
			s.DefaultFilterColumns = s.visibleFields()
		}
		c.screens[s.Key] = s
		c.order = append(c.order, s.Key)
	}
	for _, key := range c.order {
		errs = append(errs, c.check(c.screens[key])...)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// check validates references that span fields or screens.
func (c *Catalog) check(s *Screen) []error {
	var errs []error
	seen := make(map[string]bool, len(s.Columns))
	for _, col := range s.Columns {
		if seen[col.Field] {
			errs = append(errs, fmt.Errorf("screen %q: column %q is declared twice", s.Key, col.Field))
		}
		seen[col.Field] = true
	}
	for _, f := range s.DefaultFilterColumns {
		if !seen[f] {
			errs = append(errs, fmt.Errorf("screen %q: default filter column %q is not a column", s.Key, f))
		}
	}
	for _, e := range s.Editable {
		if !seen[e.Field] {
			errs = append(errs, fmt.Errorf("screen %q: editable field %q is not a column", s.Key, e.Field))
		}
	}
	groups := [][]string{s.Export.Int, s.Export.OneDecimal, s.Export.TwoDecimal, s.Export.IncludeHidden}
	for _, group := range groups {
		for _, f := range group {
			if !seen[f] && s.Manifest == nil {
				errs = append(errs, fmt.Errorf("screen %q: export column %q is not a column", s.Key, f))
			}
		}
	}
	if s.Manifest != nil && s.Manifest.Discriminator == "" {
		errs = append(errs, fmt.Errorf("screen %q: manifest discriminator is required", s.Key))
	}
	popupKeys := make(map[string]bool, len(s.Popups))
	for _, p := range s.Popups {
		if popupKeys[p.Key] {
			errs = append(errs, fmt.Errorf("screen %q: popup %q is declared twice", s.Key, p.Key))
		}
		popupKeys[p.Key] = true
		child, ok := c.screens[p.Screen]
		if !ok {
			errs = append(errs, fmt.Errorf("screen %q: popup %q refers to unknown screen %q", s.Key, p.Key, p.Screen))
			continue
		}
		for param, parentField := range p.Params {
			if !seen[parentField] {
				errs = append(errs, fmt.Errorf("screen %q: popup %q param %q reads unknown field %q", s.Key, p.Key, param, parentField))
			}
		}
		for parentField, childField := range p.Confirm {
			if !seen[parentField] {
				errs = append(errs, fmt.Errorf("screen %q: popup %q confirms into unknown field %q", s.Key, p.Key, parentField))
			} else if _, ok := s.EditableField(parentField); !ok {
				errs = append(errs, fmt.Errorf("screen %q: popup %q confirms into non-editable field %q", s.Key, p.Key, parentField))
			}
			if !child.HasColumn(childField) {
				errs = append(errs, fmt.Errorf("screen %q: popup %q confirms from unknown field %q", s.Key, p.Key, childField))
			}
		}
	}
	return errs
}

func (c *Catalog) Get(key string) (*Screen, error) {
	s, ok := c.screens[key]
	if !ok {
		return nil, ErrScreenNotFound.WithTemplateData(map[string]string{"Screen": key})
	}
	return s, nil
}

// List returns the screens in declaration order.
func (c *Catalog) List() []*Screen {
	out := make([]*Screen, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.screens[key])
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.order)
}
