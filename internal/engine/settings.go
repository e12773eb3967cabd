package engine

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"

	"github.com/solo125812/st-voyageai-memory/internal/config"
)

// ErrSettingsReadOnly is returned by SaveSettings when the settings source
// cannot be written.
var ErrSettingsReadOnly = errors.New("settings are read-only")

type settingsSaver interface {
	Save(config.Settings) error
}

// SettingsWritable reports whether SaveSettings can succeed.
func (e *Engine) SettingsWritable() bool {
	_, ok := e.settings.(settingsSaver)
	return ok
}

// SaveSettings persists s and returns the normalized value the next
// pipeline call will read.
func (e *Engine) SaveSettings(s config.Settings) (config.Settings, error) {
	saver, ok := e.settings.(settingsSaver)
	if !ok {
		return config.Settings{}, goerr.Wrap(ErrSettingsReadOnly, "no settings file configured")
	}
	if err := saver.Save(s); err != nil {
		return config.Settings{}, goerr.Wrap(err, "failed to save settings")
	}
	e.logger.Info("settings saved", "summarizer", s.Summarizer, "embedding", s.Embedding)
	return e.settings.Settings(), nil
}
