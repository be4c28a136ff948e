package telemetry

import (
	"regexp"
	"strings"
)

type sourceKeyword struct {
	pattern *regexp.Regexp
	source  Source
}

// failKeywords infers the source of a FAIL: message. Evaluated in order,
// first match wins.
var failKeywords = []sourceKeyword{
	{regexp.MustCompile(`(?i)roll/pitch/yaw`), SourceGyro},
	{regexp.MustCompile(`(?i)accel`), SourceAccelerometer},
	{regexp.MustCompile(`(?i)temp/hum/pres`), SourceBME},
	{regexp.MustCompile(`(?i)gps|sats`), SourceGPS},
}

// sensorKeywords sniffs sensor phrases anywhere in an unprefixed line.
// Whole words only, so "Acceleration calibrating" is not a sensor fault.
var sensorKeywords = []sourceKeyword{
	{regexp.MustCompile(`(?i)roll/pitch/yaw`), SourceGyro},
	{regexp.MustCompile(`(?i)\baccel\b`), SourceAccelerometer},
	{regexp.MustCompile(`(?i)temp/?hum/?pres|\bbme\b`), SourceBME},
	{regexp.MustCompile(`(?i)gps|sats|satellites`), SourceGPS},
}

var (
	warningPattern = regexp.MustCompile(`(?i)advertencia|warning`)
	failPrefix     = regexp.MustCompile(`(?i)^FAIL:`)
)

type classifyRule struct {
	match func(line string) bool
	build func(line string) (Event, bool)
}

// classifyRules is evaluated in order, first match wins.
var classifyRules = []classifyRule{
	{
		match: warningPattern.MatchString,
		build: func(line string) (Event, bool) {
			return Event{Type: EventWarning, Source: SourceSystem, Message: line}, true
		},
	},
	{
		match: failPrefix.MatchString,
		build: func(line string) (Event, bool) {
			msg := strings.TrimSpace(line[len("FAIL:"):])
			source, ok := inferSource(failKeywords, msg)
			if !ok {
				source = SourceUnknown
			}

			return Event{Type: EventError, Source: source, Message: msg}, true
		},
	},
	{
		match: func(string) bool { return true },
		build: func(line string) (Event, bool) {
			source, ok := inferSource(sensorKeywords, line)
			if !ok {
				return Event{}, false
			}

			return Event{Type: EventError, Source: source, Message: line}, true
		},
	},
}

// Classify turns a free-text receiver line into an event. It returns false
// for lines that match no rule; those lines are dropped by the caller.
func Classify(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	for _, rule := range classifyRules {
		if rule.match(line) {
			return rule.build(line)
		}
	}

	return Event{}, false
}

func inferSource(keywords []sourceKeyword, text string) (Source, bool) {
	for _, kw := range keywords {
		if kw.pattern.MatchString(text) {
			return kw.source, true
		}
	}

	return SourceUnknown, false
}
