// Package otp reads one-time login codes from out-of-band channels.
package otp

import (
	"regexp"
)

// Strategies are tried in order; the first one with any match decides.
var strategies = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{6}\b`),
	regexp.MustCompile(`\b\d{4,8}\b`),
	regexp.MustCompile(`(?i)(?:código|codigo|code|otp|token)\s*[:#-]?\s*(\d{4,8})`),
	regexp.MustCompile(`(\d{4,8})(?:\s|$)`),
}

// Extract returns the most likely verification code in text, or "" when
// none of the strategies match. Within a strategy the first run of six or
// more digits is preferred over shorter runs.
func Extract(text string) string {
	if text == "" {
		return ""
	}

	for _, re := range strategies {
		matches := re.FindAllStringSubmatch(text, -1)
		if len(matches) == 0 {
			continue
		}

		candidates := make([]string, 0, len(matches))
		for _, m := range matches {
			// Prefer the capture group when the pattern has one
			if len(m) > 1 && m[1] != "" {
				candidates = append(candidates, m[1])
			} else {
				candidates = append(candidates, m[0])
			}
		}

		for _, c := range candidates {
			if len(c) >= 6 {
				return c
			}
		}
		return candidates[0]
	}

	return ""
}
