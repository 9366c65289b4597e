// Package pattern implements the wildcard grammar shared by fact keys,
// event topics, and timer names.
//
// A pattern is a separator-delimited list of segments. A "*" segment
// matches exactly one segment of the subject; there is no multi-segment
// wildcard. Fact keys use ":" as separator, event topics use ".".
// Timer names use ".", matching topic grammar.
package pattern

import "strings"

// FactSep separates segments in fact keys ("customer:42:score").
const FactSep = ":"

// TopicSep separates segments in event topics ("order.created").
const TopicSep = "."

// Wildcard is the single-segment wildcard token.
const Wildcard = "*"

// Match reports whether subject matches pattern under the given separator.
// Segment counts must be equal; each pattern segment either equals the
// subject segment or is the wildcard.
func Match(pat, subject, sep string) bool {
	_, ok := MatchCaptures(pat, subject, sep)
	return ok
}

// MatchCaptures matches like Match and additionally returns the subject
// segments consumed by wildcard pattern segments, in order. A match with
// no wildcards returns a nil capture slice.
func MatchCaptures(pat, subject, sep string) ([]string, bool) {
	if pat == subject {
		return nil, true
	}
	if !strings.Contains(pat, Wildcard) {
		return nil, false
	}
	pseg := strings.Split(pat, sep)
	sseg := strings.Split(subject, sep)
	if len(pseg) != len(sseg) {
		return nil, false
	}
	var caps []string
	for i, p := range pseg {
		if p == Wildcard {
			caps = append(caps, sseg[i])
			continue
		}
		if p != sseg[i] {
			return nil, false
		}
	}
	return caps, true
}

// HasWildcard reports whether the pattern contains a wildcard segment.
func HasWildcard(pat, sep string) bool {
	for _, seg := range strings.Split(pat, sep) {
		if seg == Wildcard {
			return true
		}
	}
	return false
}

// Prefix returns the literal segments of the pattern up to (excluding) the
// first wildcard, joined by sep. Used by the pattern index to bucket
// patterns by their stable prefix. A leading-wildcard pattern has an
// empty prefix.
func Prefix(pat, sep string) string {
	segs := strings.Split(pat, sep)
	for i, seg := range segs {
		if seg == Wildcard {
			return strings.Join(segs[:i], sep)
		}
	}
	return pat
}

// IsValid reports whether the pattern is non-empty and contains no empty
// segments.
func IsValid(pat, sep string) bool {
	if pat == "" {
		return false
	}
	for _, seg := range strings.Split(pat, sep) {
		if seg == "" {
			return false
		}
	}
	return true
}
