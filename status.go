package mcpkit

// Level is the categorical part of a client status.
type Level string

const (
	LevelOk    Level = "ok"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Status is the observable per-client state: a categorical level plus a short
// text. Every state transition and every emission updates it; observers
// depend on it, it is not just logging.
type Status struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Translator looks up a localized text for a message key. A missing key (or a
// nil Translator) falls back to the English text the call site provides.
type Translator func(key string) (string, bool)

func resolveText(tr Translator, key, fallback string) string {
	if tr != nil && len(key) > 0 {
		if text, found := tr(key); found {
			return text
		}
	}
	return fallback
}
