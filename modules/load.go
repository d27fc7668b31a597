package modules

import (
	"github.com/iota-uz/reportgrid/modules/reports"
	"github.com/iota-uz/reportgrid/pkg/application"
)

var (
	BuiltInModules = []application.Module{
		reports.NewModule(nil),
	}
)

func Load(app application.Application, externalModules ...application.Module) error {
	for _, module := range externalModules {
		if err := module.Register(app); err != nil {
			return err
		}
	}
	return nil
}
