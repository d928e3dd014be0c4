package extract

import (
	"fmt"
	"strings"

	"github.com/docfold/docfold/model"
)

// OCRConfidence synthesizes a 0-100 confidence for a value produced by a
// regex, anchor or table strategy: the average confidence of the OCR
// boxes whose text overlaps the extracted substring, with a 10% bonus
// for an exact box match and a 10% penalty for very short results.
// Lists are scored per element and averaged.
func OCRConfidence(value interface{}, pages []model.OCRPage) float64 {
	if list, ok := value.([]interface{}); ok {
		if len(list) == 0 {
			return 0
		}
		var sum float64
		for _, v := range list {
			sum += OCRConfidence(v, pages)
		}
		return clampScore(sum / float64(len(list)))
	}

	text := strings.TrimSpace(stringify(value))
	if text == "" {
		return 0
	}

	var sum float64
	var count int
	exact := false
	for _, page := range pages {
		for _, box := range page.Boxes {
			boxText := strings.TrimSpace(box.Text)
			if boxText == "" {
				continue
			}
			if !strings.Contains(text, boxText) && !strings.Contains(boxText, text) {
				continue
			}
			sum += box.Confidence
			count++
			if boxText == text {
				exact = true
			}
		}
	}
	if count == 0 {
		// No box overlap: fall back to the page-level average so the
		// score still reflects recognition quality.
		var pageSum float64
		for _, page := range pages {
			pageSum += page.AvgConfidence
		}
		if len(pages) == 0 {
			return 0
		}
		sum, count = pageSum, len(pages)
	}

	score := sum / float64(count) * 100
	if exact {
		score *= 1.10
	}
	if len([]rune(text)) < 3 {
		score *= 0.90
	}
	return clampScore(score)
}

// LLMConfidence synthesizes a 0-100 confidence for an LLM-extracted
// value: base 70, +20 for a verbatim appearance in the OCR text, +5 for
// a fuzzy match, length penalties for long values, and for arrays a
// verbatim-match rate worth up to +15.
func LLMConfidence(value interface{}, ocrText string) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case []interface{}:
		if len(v) == 0 {
			return 0
		}
		matched := 0
		for _, elem := range v {
			s := strings.TrimSpace(stringify(elem))
			if s != "" && strings.Contains(ocrText, s) {
				matched++
			}
		}
		rate := float64(matched) / float64(len(v))
		return clampScore(70 + 15*rate)
	case map[string]interface{}:
		if len(v) == 0 {
			return 0
		}
		var sum float64
		for _, elem := range v {
			sum += LLMConfidence(elem, ocrText)
		}
		return clampScore(sum / float64(len(v)))
	default:
		s := strings.TrimSpace(stringify(v))
		if s == "" {
			return 0
		}
		score := 70.0
		if strings.Contains(ocrText, s) {
			score += 20
		} else if charOverlap(s, ocrText) >= 0.8 {
			score += 5
		}
		n := len([]rune(s))
		if n > 100 {
			score -= 5
		}
		if n > 300 {
			score -= 5
		}
		return clampScore(score)
	}
}

// charOverlap is the fraction of the value's runes present in the
// reference text, counted as a multiset.
func charOverlap(value, text string) float64 {
	if value == "" {
		return 0
	}
	pool := make(map[rune]int)
	for _, r := range text {
		pool[r]++
	}
	matched := 0
	total := 0
	for _, r := range value {
		total++
		if pool[r] > 0 {
			pool[r]--
			matched++
		}
	}
	return float64(matched) / float64(total)
}

// lcsRatio is 2*LCS/(len(a)+len(b)) over runes, the string similarity
// used by the consistency check.
func lcsRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%v", s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
