package conf

import (
	"github.com/leafscan/leafnet-go/internal/errors"
)

// ValidateSettings checks the loaded settings for values the pipeline
// cannot run with.
func ValidateSettings(settings *Settings) error {
	if settings.Model.InputSize <= 0 {
		return errors.Newf("model input size must be positive, got %d", settings.Model.InputSize).
			Component("conf").
			Category(errors.CategoryConfig).
			Context("inputsize", settings.Model.InputSize).
			Build()
	}

	for i := range settings.Model.Std {
		if settings.Model.Std[i] <= 0 {
			return errors.Newf("model std channel %d must be positive, got %f", i, settings.Model.Std[i]).
				Component("conf").
				Category(errors.CategoryConfig).
				Build()
		}
	}

	if settings.Scheduler.BatchSize < 1 {
		return errors.Newf("scheduler batch size must be at least 1, got %d", settings.Scheduler.BatchSize).
			Component("conf").
			Category(errors.CategoryConfig).
			Context("batchsize", settings.Scheduler.BatchSize).
			Build()
	}

	if settings.Scheduler.Interval <= 0 {
		return errors.Newf("scheduler interval must be positive, got %s", settings.Scheduler.Interval).
			Component("conf").
			Category(errors.CategoryConfig).
			Build()
	}

	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		return errors.Newf("no datastore backend enabled, enable output.sqlite or output.mysql").
			Component("conf").
			Category(errors.CategoryConfig).
			Build()
	}

	return nil
}
