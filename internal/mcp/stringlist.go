package mcp

import (
	"encoding/json"

	lserrors "github.com/lodestone-mcp/lodestone/internal/errors"
)

// StringList accepts either a JSON string or an array of strings. The
// scrape tool's url argument takes both forms.
type StringList []string

// UnmarshalJSON implements the string-or-array coercion. Anything else
// is an InvalidArgument, never a crash.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = StringList(many)
		return nil
	}

	return lserrors.InvalidArgument("url must be string or string[]")
}
