package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrBadCompletion is returned when the completion text carries no parsable
// JSON object. Models drift in how they wrap structured output (prose,
// code fences), so everything outside the outermost braces is discarded.
var ErrBadCompletion = errors.New("analysis: completion did not contain valid JSON")

// ExtractJSON pulls the outermost JSON object out of free-form completion
// text and unmarshals it into v. This is the only place the rest of the
// system touches model output formatting.
func ExtractJSON(text string, v any) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return fmt.Errorf("%w: no object delimiters", ErrBadCompletion)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadCompletion, err)
	}
	return nil
}
