package domain

import "regexp"

// Names may use letters and digits of any script.
var placeholderRe = regexp.MustCompile(`\{([\p{L}\p{N}_]+)\}`)

// Placeholders returns the `{name}` field references in a tagged text, in order.
func Placeholders(text string) []string {
	matches := placeholderRe.FindAllStringSubmatch(text, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// UndeclaredFields lists placeholder names used by samples that are not in declared.
// The result is deduplicated and keeps first-seen order.
func UndeclaredFields(samples []string, declared []string) []string {
	known := make(map[string]bool, len(declared))
	for _, d := range declared {
		known[d] = true
	}
	seen := map[string]bool{}
	var missing []string
	for _, s := range samples {
		for _, name := range Placeholders(s) {
			if known[name] || seen[name] {
				continue
			}
			seen[name] = true
			missing = append(missing, name)
		}
	}
	return missing
}
