package ocr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/docfold/docfold/common"
)

// ResolvePages evaluates a page expression against a document's page
// count and returns the 1-indexed pages to recognize, sorted and
// deduplicated.
//
// Supported forms, comma-separated and mixable:
//
//	""            all pages
//	"All Pages"   all pages
//	"3"           single page
//	"1-3"         inclusive range
//	"Last Page"   the final page
//
// Invalid or out-of-range tokens are skipped with a warning. An
// expression that selects nothing falls back to all pages so a rule
// misconfigured for a shorter document still recognizes something.
func ResolvePages(expr string, total int) ([]int, error) {
	if total < 1 {
		return nil, fmt.Errorf("document has no pages")
	}

	expr = strings.TrimSpace(expr)
	if expr == "" || strings.EqualFold(expr, "all pages") || strings.EqualFold(expr, "all") {
		return allPages(total), nil
	}

	seen := make(map[int]bool)
	for _, token := range strings.Split(expr, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		if strings.EqualFold(token, "last page") || strings.EqualFold(token, "last") {
			seen[total] = true
			continue
		}

		if start, end, found := strings.Cut(token, "-"); found {
			lo, okLo := parsePageNumber(start, total)
			hi, okHi := parsePageNumber(end, total)
			if !okLo || !okHi || lo > hi {
				common.Logger.WithField("token", token).Warn("skipping invalid page range")
				continue
			}
			for p := lo; p <= hi; p++ {
				seen[p] = true
			}
			continue
		}

		p, ok := parsePageNumber(token, total)
		if !ok {
			common.Logger.WithField("token", token).Warn("skipping invalid page token")
			continue
		}
		seen[p] = true
	}

	if len(seen) == 0 {
		common.Logger.WithField("expression", expr).Warn("page expression selects nothing, using all pages")
		return allPages(total), nil
	}

	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages, nil
}

func allPages(total int) []int {
	pages := make([]int, total)
	for i := range pages {
		pages[i] = i + 1
	}
	return pages
}

func parsePageNumber(s string, total int) (int, bool) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "last page") || strings.EqualFold(s, "last") {
		return total, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > total {
		return 0, false
	}
	return n, true
}
