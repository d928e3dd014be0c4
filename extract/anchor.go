package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/docfold/docfold/model"
)

const defaultAnchorDistance = 50

// ExtractAnchor locates an anchor keyword and takes the text to its
// right, bounded by max_distance characters and an optional end marker.
// Collection fields collect the capture after every anchor occurrence.
func ExtractAnchor(text string, s model.Strategy, isCollection bool) (interface{}, bool, error) {
	if s.Anchor == "" {
		return nil, false, fmt.Errorf("anchor strategy requires an anchor")
	}

	pattern := s.Anchor
	if !s.AnchorIsRegex {
		pattern = regexp.QuoteMeta(s.Anchor)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false, fmt.Errorf("invalid anchor pattern %q: %w", s.Anchor, err)
	}

	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil, false, nil
	}

	maxDistance := s.MaxDistance
	if maxDistance <= 0 {
		maxDistance = defaultAnchorDistance
	}

	var values []interface{}
	for _, loc := range locs {
		captured := capture(text[loc[1]:], maxDistance, s.EndMarker)
		if captured == "" {
			continue
		}
		values = append(values, captured)
		if !isCollection {
			break
		}
	}
	if len(values) == 0 {
		return nil, false, nil
	}
	if isCollection {
		return values, true, nil
	}
	return values[0], true, nil
}

// capture takes up to maxDistance runes after an anchor, cutting at the
// end marker when present and stripping label separators.
func capture(after string, maxDistance int, endMarker string) string {
	if endMarker != "" {
		if idx := strings.Index(after, endMarker); idx >= 0 {
			after = after[:idx]
		}
	}
	runes := []rune(after)
	if len(runes) > maxDistance {
		runes = runes[:maxDistance]
	}
	captured := string(runes)
	captured = strings.TrimLeft(captured, ":： \t")
	if idx := strings.IndexByte(captured, '\n'); idx >= 0 {
		captured = captured[:idx]
	}
	return strings.TrimSpace(captured)
}
