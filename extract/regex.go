package extract

import (
	"fmt"
	"regexp"

	"github.com/docfold/docfold/model"
)

// ExtractRegex runs a regex strategy against the merged text. Collection
// fields always yield a list; scalar fields yield the first match.
// Returns ok=false when the pattern matches nothing.
func ExtractRegex(text string, s model.Strategy, isCollection bool) (interface{}, bool, error) {
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		return nil, false, fmt.Errorf("invalid regex pattern %q: %w", s.Pattern, err)
	}
	if s.Group < 0 || s.Group > re.NumSubexp() {
		return nil, false, fmt.Errorf("regex group %d out of range for %q", s.Group, s.Pattern)
	}

	if s.MatchMode == model.MatchAll || isCollection {
		matches := re.FindAllStringSubmatch(text, -1)
		if len(matches) == 0 {
			return nil, false, nil
		}
		values := make([]interface{}, 0, len(matches))
		for _, m := range matches {
			values = append(values, m[s.Group])
			if s.MatchMode != model.MatchAll {
				break
			}
		}
		if !isCollection {
			return values[0], true, nil
		}
		return values, true, nil
	}

	m := re.FindStringSubmatch(text)
	if m == nil {
		return nil, false, nil
	}
	return m[s.Group], true, nil
}
