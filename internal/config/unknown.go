package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxSuggestionDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxSuggestionDistance = 3

// knownKeys are the valid dotted keys in the config file, derived from the
// toml tags on the Config struct tree.
var knownKeys = map[string]bool{
	"server.listen_addr": true, "server.data_dir": true,
	"server.staging_dir": true, "server.state_path": true,
	"sync.poll_interval": true, "sync.run_concurrency": true,
	"uploads.max_chunk_size": true, "uploads.retention_days": true,
	"uploads.sweep_interval": true,
	"logging.level":          true, "logging.format": true,
}

// knownKeysList is the sorted slice form of knownKeys for edit-distance
// matching. Sorted for deterministic suggestions when two candidates have
// the same distance.
var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys fails loading when the decoded file contained keys that
// do not correspond to any Config field. Section headers themselves
// (e.g. "server") are reported by toml as undecoded only when empty, so
// only dotted leaf keys are checked.
func checkUnknownKeys(md *toml.MetaData) error {
	for _, key := range md.Undecoded() {
		name := key.String()
		if !strings.Contains(name, ".") {
			continue
		}

		msg := fmt.Sprintf("unknown config key %q", name)
		if suggestion := closestKnownKey(name); suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
		}

		return fmt.Errorf("%s", msg)
	}

	return nil
}

// closestKnownKey returns the known key with the smallest edit distance to
// name, or "" when nothing is within maxSuggestionDistance.
func closestKnownKey(name string) string {
	best := ""
	bestDist := maxSuggestionDistance + 1

	for _, candidate := range knownKeysList {
		if d := editDistance(name, candidate); d < bestDist {
			best = candidate
			bestDist = d
		}
	}

	return best
}

// editDistance computes the Levenshtein distance between two strings.
func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i

		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}

			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
