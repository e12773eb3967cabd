package engine

import (
	"errors"
	"fmt"

	"github.com/solo125812/st-voyageai-memory/internal/storage"
	"github.com/solo125812/st-voyageai-memory/pkg/types"
)

// Notice levels.
const (
	LevelSuccess = "success"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notice is the single human-readable message shown for an externally
// triggered operation.
type Notice struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Successf builds a success notice.
func Successf(format string, args ...any) Notice {
	return Notice{Level: LevelSuccess, Message: fmt.Sprintf(format, args...)}
}

// Infof builds an informational notice.
func Infof(format string, args ...any) Notice {
	return Notice{Level: LevelInfo, Message: fmt.Sprintf(format, args...)}
}

// Failure describes err for a user. action names what was attempted, e.g.
// "Import" or "Connection test".
func Failure(action string, err error) Notice {
	var up *types.UpstreamError
	switch {
	case errors.Is(err, ErrWriteInFlight):
		return Notice{Level: LevelInfo, Message: "Already processing a message; this one was skipped."}
	case errors.Is(err, ErrTextTooShort):
		return Notice{Level: LevelInfo, Message: "Message is too short to summarize."}
	case errors.Is(err, ErrNoEntity):
		return Notice{Level: LevelWarning, Message: "No character selected."}
	case errors.Is(err, ErrSettingsReadOnly):
		return Notice{Level: LevelWarning, Message: fmt.Sprintf("%s failed: settings are read-only without a settings file.", action)}
	case errors.Is(err, types.ErrConfig):
		return Notice{Level: LevelError, Message: fmt.Sprintf("%s failed: check the API URL and key in settings.", action)}
	case errors.As(err, &up):
		return Notice{Level: LevelError, Message: fmt.Sprintf("%s failed: %s", action, up.Error())}
	case errors.Is(err, types.ErrFormat):
		return Notice{Level: LevelError, Message: fmt.Sprintf("%s failed: invalid memory file format.", action)}
	case errors.Is(err, storage.ErrDimensionMismatch):
		return Notice{Level: LevelError, Message: fmt.Sprintf("%s failed: the embedding model changed; clear or re-import this character's memories.", action)}
	case errors.Is(err, types.ErrStorage):
		return Notice{Level: LevelError, Message: fmt.Sprintf("%s failed: memories could not be saved.", action)}
	case errors.Is(err, types.ErrNotFound):
		return Notice{Level: LevelWarning, Message: fmt.Sprintf("%s failed: memory not found.", action)}
	default:
		return Notice{Level: LevelError, Message: fmt.Sprintf("%s failed: %v", action, err)}
	}
}
