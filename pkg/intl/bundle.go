package intl

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/iota-uz/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.toml
var localeFiles embed.FS

// LoadBundle returns a bundle with English as fallback and the shared
// message files already parsed.
func LoadBundle() *i18n.Bundle {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)
	if err := RegisterLocaleFiles(bundle, &localeFiles); err != nil {
		panic(err)
	}
	return bundle
}

// RegisterLocaleFiles parses every file of fsys into bundle. File names
// follow the go-i18n convention, e.g. "en.toml".
func RegisterLocaleFiles(bundle *i18n.Bundle, fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("read locale file %q: %w", path, err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, filepath.Base(path)); err != nil {
			return fmt.Errorf("parse locale file %q: %w", path, err)
		}
		return nil
	})
}
