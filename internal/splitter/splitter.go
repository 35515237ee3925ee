// Package splitter cuts a DDL script into units of work, one CREATE TABLE
// statement group per unit.
package splitter

import (
	"regexp"
	"sort"
	"strings"
)

var createTablePattern = regexp.MustCompile(`(?i)create\s+table`)

// Split returns the units of sql in document order.
//
// Every CREATE TABLE starts a new unit at the position right after the
// nearest preceding ';'. Text before the first terminator is never split off
// on its own, so a preamble without ';' stays attached to the first unit.
// Every unit but the last ends with ';' (ignoring trailing whitespace).
func Split(sql string) []string {
	matches := createTablePattern.FindAllStringIndex(sql, -1)
	if len(matches) == 0 {
		if trimmed := strings.TrimSpace(sql); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}

	seen := make(map[int]struct{}, len(matches))
	boundaries := make([]int, 0, len(matches))
	for _, m := range matches {
		semi := strings.LastIndex(sql[:m[0]], ";")
		if semi == -1 {
			continue
		}
		b := semi + 1
		if b <= 0 || b >= len(sql) {
			continue
		}
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		boundaries = append(boundaries, b)
	}
	sort.Ints(boundaries)

	units := make([]string, 0, len(boundaries)+1)
	start := 0
	for _, b := range boundaries {
		if b <= start {
			continue
		}
		if part := strings.TrimSpace(sql[start:b]); part != "" {
			units = append(units, part)
		}
		start = b
	}
	if last := strings.TrimSpace(sql[start:]); last != "" {
		units = append(units, last)
	}
	return units
}

// Merge groups every n consecutive units into one, joined by a blank line.
// n <= 1 returns units unchanged.
func Merge(units []string, n int) []string {
	if n <= 1 || len(units) <= 1 {
		return units
	}
	merged := make([]string, 0, (len(units)+n-1)/n)
	for i := 0; i < len(units); i += n {
		end := min(i+n, len(units))
		merged = append(merged, strings.Join(units[i:end], "\n\n"))
	}
	return merged
}
