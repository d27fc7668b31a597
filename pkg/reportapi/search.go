package reportapi

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/iota-uz/reportgrid/pkg/grid"
)

// Request is one search against one endpoint.
type Request struct {
	Endpoint   string
	Convention Convention
	Params     Params
	// Identity adds an ID field equal to seq to every row.
	Identity bool
}

// Manifest describes the two-call pattern: the same endpoint is called once
// for the dynamic column list and once for rows, differing only in the value
// of Discriminator.
type Manifest struct {
	Discriminator string `json:"discriminator" yaml:"discriminator"`
	ManifestValue string `json:"manifestValue" yaml:"manifestValue"`
	DataValue     string `json:"dataValue" yaml:"dataValue"`
	CodeField     string `json:"codeField" yaml:"codeField"`
	LabelField    string `json:"labelField" yaml:"labelField"`
}

func (m Manifest) codeField() string {
	if m.CodeField == "" {
		return "code"
	}
	return m.CodeField
}

func (m Manifest) labelField() string {
	if m.LabelField == "" {
		return "label"
	}
	return m.LabelField
}

// Search fetches rows and tags each with a 1-based seq.
func (c *Client) Search(ctx context.Context, req Request) ([]grid.Row, error) {
	data, err := c.call(ctx, req.Endpoint, req.Convention.Apply(req.Params))
	if err != nil {
		return nil, err
	}
	rows, err := decodeRows(data)
	if err != nil {
		return nil, &TransportError{Endpoint: req.Endpoint, Cause: err}
	}
	return Normalize(rows, req.Identity), nil
}

// SearchWithManifest runs the manifest and data calls concurrently. Both must
// succeed; the first failure cancels the other and is returned.
func (c *Client) SearchWithManifest(ctx context.Context, req Request, m Manifest) ([]grid.Row, []grid.ColumnSpec, error) {
	if m.Discriminator == "" {
		return nil, nil, errors.New("reportapi: manifest discriminator is required")
	}

	var (
		rows    []grid.Row
		columns []grid.ColumnSpec
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		params := req.Params.Merge(Params{m.Discriminator: m.ManifestValue})
		data, err := c.call(gctx, req.Endpoint, req.Convention.Apply(params))
		if err != nil {
			return err
		}
		items, err := decodeRows(data)
		if err != nil {
			return &TransportError{Endpoint: req.Endpoint, Cause: err}
		}
		columns = manifestColumns(items, m)
		return nil
	})
	g.Go(func() error {
		params := req.Params.Merge(Params{m.Discriminator: m.DataValue})
		data, err := c.call(gctx, req.Endpoint, req.Convention.Apply(params))
		if err != nil {
			return err
		}
		items, err := decodeRows(data)
		if err != nil {
			return &TransportError{Endpoint: req.Endpoint, Cause: err}
		}
		rows = Normalize(items, req.Identity)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return rows, columns, nil
}

func manifestColumns(items []grid.Row, m Manifest) []grid.ColumnSpec {
	cols := make([]grid.ColumnSpec, 0, len(items))
	for _, item := range items {
		code := item.Text(m.codeField())
		if code == "" {
			continue
		}
		label := item.Text(m.labelField())
		if label == "" {
			label = code
		}
		cols = append(cols, grid.ColumnSpec{Field: code, Title: label, Visible: true})
	}
	return cols
}

// decodeRows reads the data element. Anything other than an array of objects
// yields no rows.
func decodeRows(data json.RawMessage) ([]grid.Row, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode data")
	}
	rows := make([]grid.Row, 0, len(raw))
	for _, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			continue
		}
		var row grid.Row
		if err := json.Unmarshal(item, &row); err != nil {
			return nil, errors.Wrap(err, "decode row")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Normalize assigns seq (and ID when identity is set) in result order.
// Existing values under those keys are overwritten.
func Normalize(rows []grid.Row, identity bool) []grid.Row {
	out := make([]grid.Row, len(rows))
	for i, r := range rows {
		if r == nil {
			r = grid.Row{}
		}
		r[grid.FieldSeq] = i + 1
		if identity {
			r[grid.FieldID] = i + 1
		}
		out[i] = r
	}
	return out
}
