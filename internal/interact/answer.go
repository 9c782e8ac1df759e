package interact

import (
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/openclaw/internal/cliexec"
)

// ParseAnswer maps a user's reply onto the interaction's options.
//
//   - No options: the trimmed input verbatim.
//   - Multi-select with commas: each token parsed as a 1-based index;
//     distinct matched labels joined by ", " in input order. Falls through
//     when no token matches.
//   - A single 1-based index.
//   - A case-insensitive label match.
//   - Otherwise the trimmed input as a free-form answer.
func ParseAnswer(input string, options []cliexec.InteractionOption, multiSelect bool) string {
	trimmed := strings.TrimSpace(input)
	if len(options) == 0 {
		return trimmed
	}

	if multiSelect && strings.Contains(trimmed, ",") {
		var labels []string
		seen := make(map[string]bool)
		for _, tok := range strings.Split(trimmed, ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(tok))
			if err != nil || idx < 1 || idx > len(options) {
				continue
			}
			label := options[idx-1].Label
			if !seen[label] {
				seen[label] = true
				labels = append(labels, label)
			}
		}
		if len(labels) > 0 {
			return strings.Join(labels, ", ")
		}
	}

	if idx, err := strconv.Atoi(trimmed); err == nil && idx >= 1 && idx <= len(options) {
		return options[idx-1].Label
	}

	for _, opt := range options {
		if strings.EqualFold(opt.Label, trimmed) {
			return opt.Label
		}
	}

	return trimmed
}
