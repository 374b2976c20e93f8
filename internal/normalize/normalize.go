// Package normalize turns the raw text scraped from a detail page into typed
// listing fields. Every function is pure and returns nil for text it cannot
// interpret.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/user/autoria-crawler/internal/entity"
)

// VINLength is the length of a well-formed vehicle identification number.
const VINLength = 17

var (
	intLiteral = regexp.MustCompile(`\d+`)
	nonDigit   = regexp.MustCompile(`\D`)
	hasDigit   = regexp.MustCompile(`\d`)
)

var phonePlaceholders = map[string]struct{}{
	"Phone not available": {},
	"Phone not found":     {},
	"Not available":       {},
}

// SelectPrice picks the USD fragment out of the price block: the first
// fragment when it carries "$", otherwise the second, otherwise the first.
func SelectPrice(fragments []string) string {
	if len(fragments) == 0 {
		return ""
	}
	if strings.Contains(fragments[0], "$") || len(fragments) == 1 {
		return strings.TrimSpace(fragments[0])
	}
	return strings.TrimSpace(fragments[1])
}

// ParsePrice keeps only the digits of s.
func ParsePrice(s string) *int64 {
	return parseDigits(nonDigit.ReplaceAllString(s, ""))
}

// Price composes SelectPrice and ParsePrice.
func Price(fragments []string) *int64 {
	return ParsePrice(SelectPrice(fragments))
}

// Odometer reads the first integer as thousands of kilometres.
func Odometer(raw string) *int64 {
	nums := intLiteral.FindAllString(raw, 1)
	if len(nums) == 0 {
		return nil
	}
	n := parseDigits(nums[0])
	if n == nil {
		return nil
	}
	km := *n * 1000
	return &km
}

// ImageCount reads "1 з 13" as 13 and "31" as 31.
func ImageCount(raw string) *int64 {
	nums := intLiteral.FindAllString(raw, -1)
	switch {
	case len(nums) >= 2:
		return parseDigits(nums[1])
	case len(nums) == 1:
		return parseDigits(nums[0])
	}
	return nil
}

// ImageCounts parses every badge and keeps the second usable count, or the
// only one.
func ImageCounts(badges []string) *int64 {
	var counts []*int64
	for _, b := range badges {
		if n := ImageCount(b); n != nil {
			counts = append(counts, n)
		}
	}
	switch {
	case len(counts) >= 2:
		return counts[1]
	case len(counts) == 1:
		return counts[0]
	}
	return nil
}

// FormatPhone converts a local Ukrainian number to the 380 international form.
//
// Numbers shorter than nine digits get "380" prepended as-is, which yields
// fewer than twelve digits; callers store them unchanged.
func FormatPhone(raw string) *int64 {
	digits := nonDigit.ReplaceAllString(raw, "")
	switch {
	case digits == "":
		return nil
	case strings.HasPrefix(digits, "0"):
		digits = "38" + digits
	case strings.HasPrefix(digits, "380"):
	case len(digits) < 9:
		digits = "380" + digits
	}
	return parseDigits(digits)
}

// Phones formats every usable entry of list, skipping empty text,
// placeholders and text without digits. The result is never nil.
func Phones(list []string) []int64 {
	out := make([]int64, 0, len(list))
	for _, p := range list {
		p = strings.TrimSpace(p)
		if p == "" || !hasDigit.MatchString(p) {
			continue
		}
		if _, ok := phonePlaceholders[p]; ok {
			continue
		}
		if n := FormatPhone(p); n != nil {
			out = append(out, *n)
		}
	}
	return out
}

// CleanValue trims s; empty results become nil.
func CleanValue(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// CleanUsername flattens a multi-line seller name.
func CleanUsername(s string) *string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	if s == "" {
		return nil
	}
	return &s
}

// VIN trims and upper-cases raw. valid reports the standard length; invalid
// values are still returned.
func VIN(raw string) (vin *string, valid bool) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	if v == "" {
		return nil, false
	}
	return &v, len(v) == VINLength
}

// Title joins the first non-empty title fragment.
func Title(fragments []string) *string {
	for _, f := range fragments {
		if v := CleanValue(f); v != nil {
			return v
		}
	}
	return nil
}

// Images trims image sources and drops empty ones.
func Images(srcs []string) []string {
	out := make([]string, 0, len(srcs))
	for _, s := range srcs {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Listing composes every field normalizer. now is used for both timestamps;
// the store keeps first_seen_at from the original insert.
func Listing(raw *entity.RawListing, now time.Time) *entity.Listing {
	vin, _ := VIN(raw.VIN)
	return &entity.Listing{
		URL:            raw.URL,
		Title:          Title(raw.Title),
		PriceUSD:       Price(raw.Price),
		OdometerKM:     Odometer(raw.Odometer),
		SellerUsername: CleanUsername(raw.Username),
		PhoneNumbers:   Phones(raw.Phones),
		ImageURLs:      Images(raw.Images),
		ImageCount:     ImageCounts(raw.ImageCount),
		PlateNumber:    CleanValue(raw.Plate),
		VIN:            vin,
		FirstSeenAt:    now,
		LastUpdatedAt:  now,
	}
}

func parseDigits(s string) *int64 {
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
