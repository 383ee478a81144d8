package util

import (
	"strconv"
	"strings"
)

// ToURLName converts a title into a lowercase, dash-separated slug.
func ToURLName(title string) string {
	slug := make([]rune, 0, len(title))
	lastDash := false
	for _, ch := range strings.ToLower(strings.TrimSpace(title)) {
		if (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') {
			slug = append(slug, ch)
			lastDash = false
			continue
		}
		if !lastDash {
			slug = append(slug, '-')
			lastDash = true
		}
	}
	text := strings.Trim(string(slug), "-")
	if text == "" {
		text = "topic"
	}
	return text
}

// ToUniqueURLName derives a slug for title that does not collide with any
// of the given existing slugs. Collisions get a numeric suffix starting
// at 2, so a second "Hello World" becomes "hello-world2".
func ToUniqueURLName(title string, existing []string) string {
	base := ToURLName(title)
	taken := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		taken[name] = struct{}{}
	}
	if _, ok := taken[base]; !ok {
		return base
	}
	for i := 2; ; i++ {
		candidate := base + strconv.Itoa(i)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
