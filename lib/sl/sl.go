package sl

import (
	"fmt"
	"log/slog"
)

const textLimit = 50

func Err(err error) slog.Attr {
	value := "<nil>"
	if err != nil {
		value = err.Error()
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(value),
	}
}

// Secret returns a string with the first 5 characters of the input string
// used to hide sensitive information in logs
func Secret(some string) slog.Attr {
	r := "***"
	if len(some) > 5 {
		r = fmt.Sprintf("%s***", some[0:5])
	}
	if some == "" {
		r = "?"
	}
	return slog.Attr{
		Key:   "secret",
		Value: slog.StringValue(r),
	}
}

func Module(mod string) slog.Attr {
	return slog.Attr{
		Key:   "mod",
		Value: slog.StringValue(mod),
	}
}

// Text shortens user or model text to keep log lines readable.
func Text(key, text string) slog.Attr {
	runes := []rune(text)
	if len(runes) > textLimit {
		text = string(runes[:textLimit]) + "..."
	}
	return slog.String(key, text)
}
