package store

import (
	"fmt"
	"regexp"
	"strconv"
)

var versionLabelRe = regexp.MustCompile(`^V(\d+)\.(\d+)$`)

// ParseVersionLabel splits a V<major>.<minor> label into its components.
func ParseVersionLabel(label string) (major, minor int, ok bool) {
	m := versionLabelRe.FindStringSubmatch(label)
	if m == nil {
		return 0, 0, false
	}
	major, _ = strconv.Atoi(m[1])
	minor, _ = strconv.Atoi(m[2])
	return major, minor, true
}

// NextVersionLabel allocates the next minor above the maximum over the
// given labels. Unparseable labels are ignored. With no prior labels the
// result is V1.0.
func NextVersionLabel(existing []string) string {
	maxMajor, maxMinor, found := 0, 0, false
	for _, label := range existing {
		major, minor, ok := ParseVersionLabel(label)
		if !ok {
			continue
		}
		if !found || major > maxMajor || (major == maxMajor && minor > maxMinor) {
			maxMajor, maxMinor = major, minor
			found = true
		}
	}
	if !found {
		return "V1.0"
	}
	return fmt.Sprintf("V%d.%d", maxMajor, maxMinor+1)
}
