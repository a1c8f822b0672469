// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ident

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// MaxSequence is the largest sequence that fits the eight-digit field.
const MaxSequence = 99_999_999

const (
	dayLayout      = "20060102"
	sequenceDigits = 8
)

var authorityPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidAuthority reports whether authority is usable as an identifier
// prefix: lower-case alphanumeric words joined by single hyphens.
func ValidAuthority(authority string) bool {
	return authorityPattern.MatchString(authority)
}

// DayKey returns the UTC day bucket of t as YYYYMMDD.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// ID is a parsed artifact identifier.
type ID struct {
	Authority string
	Day       string
	Sequence  int64
}

// String formats the identifier.
func (id ID) String() string {
	return FormatID(id.Authority, id.Day, id.Sequence)
}

// FormatID formats an identifier from its parts.
func FormatID(authority, day string, sequence int64) string {
	return fmt.Sprintf("%s-%s-%0*d", authority, day, sequenceDigits, sequence)
}

// ParseID parses an identifier. The authority may itself contain
// hyphens, so the day and sequence are taken from the right.
func ParseID(text string) (ID, error) {
	// Shortest form: "a-YYYYMMDD-NNNNNNNN".
	const suffixLength = 1 + len(dayLayout) + 1 + sequenceDigits
	if len(text) < 1+suffixLength {
		return ID{}, fmt.Errorf("identifier %q is too short", text)
	}

	split := len(text) - suffixLength
	authority := text[:split]
	suffix := text[split:]
	if suffix[0] != '-' || suffix[1+len(dayLayout)] != '-' {
		return ID{}, fmt.Errorf("identifier %q is not authority-YYYYMMDD-NNNNNNNN", text)
	}
	day := suffix[1 : 1+len(dayLayout)]
	digits := suffix[2+len(dayLayout):]

	if !ValidAuthority(authority) {
		return ID{}, fmt.Errorf("identifier %q has invalid authority %q", text, authority)
	}
	if _, err := time.Parse(dayLayout, day); err != nil {
		return ID{}, fmt.Errorf("identifier %q has invalid day %q", text, day)
	}
	for _, digit := range digits {
		if digit < '0' || digit > '9' {
			return ID{}, fmt.Errorf("identifier %q has invalid sequence %q", text, digits)
		}
	}
	sequence, _ := strconv.ParseInt(digits, 10, 64)
	if sequence < 1 {
		return ID{}, fmt.Errorf("identifier %q has sequence zero", text)
	}

	return ID{Authority: authority, Day: day, Sequence: sequence}, nil
}

func validateBucket(bucket string) error {
	if _, err := time.Parse(dayLayout, bucket); err != nil || len(bucket) != len(dayLayout) {
		return fmt.Errorf("bucket %q is not a YYYYMMDD day key", bucket)
	}
	return nil
}
