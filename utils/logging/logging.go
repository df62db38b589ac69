package logging

import (
	"io"
	"log/slog"
	"strings"
)

type LogCode string

const (
	// SYSTEM EVENTS (SYSTEM*)
	SYSTEM LogCode = "SYSTEM"

	// PROJECT/ASSESSMENT OPERATIONS
	PROJECT_SAVE    LogCode = "PROJECT_SAVE"
	ASSESSMENT_SAVE LogCode = "ASSESSMENT_SAVE"
	ISSUE_SAVE      LogCode = "ISSUE_SAVE"
	ISSUE_DRAFT     LogCode = "ISSUE_DRAFT"

	// VPAT OPERATIONS
	VPAT_ROW_UPSERT LogCode = "VPAT_ROW_UPSERT"
	VPAT_GENERATE   LogCode = "VPAT_GENERATE"
	VPAT_VALIDATE   LogCode = "VPAT_VALIDATE"
	VPAT_PUBLISH    LogCode = "VPAT_PUBLISH"
	VPAT_UNPUBLISH  LogCode = "VPAT_UNPUBLISH"
	VPAT_EXPORT     LogCode = "VPAT_EXPORT"
	VPAT_SHARE      LogCode = "VPAT_SHARE"
)

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup installs a JSON slog handler writing to the given stream as the
// default logger. The level string comes from the LOG_LEVEL env variable.
func Setup(stream io.Writer, level string) {
	handler := slog.NewJSONHandler(stream, &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(handler))
	slog.Info("logging initialized", "code", SYSTEM, "level", parseLevel(level).String())
}
