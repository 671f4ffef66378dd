package tdb

import (
	"os"

	"github.com/rs/zerolog"
)

// defaultLogger mirrors the teacher's habit of logging background-goroutine
// failures instead of discarding them: Mari.go's resize/flush goroutines
// used fmt.Println, here replaced with a structured console logger at info
// level so a consuming service can raise it or redirect it to JSON.
func defaultLogger() zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(w).Level(zerolog.InfoLevel).With().Timestamp().Str("component", "tdb").Logger()
}

func resolveLogger(opts Options) zerolog.Logger {
	if opts.Logger != nil {
		return *opts.Logger
	}
	return defaultLogger()
}
