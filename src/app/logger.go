package app

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// InitLogger builds the root logger. Development gets colored console output,
// every other environment gets JSON lines.
func InitLogger(levelStr, environment string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if environment == "dev" || environment == "development" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			NoColor:    false,
			TimeFormat: "2006-01-02 15:04:05",
		}
	}

	return zerolog.New(output).With().
		Timestamp().
		Str("service", "entrypoint").
		Logger()
}
