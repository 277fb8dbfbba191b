package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each config section.
var knownKeys = map[string]map[string]bool{
	"rpc": {
		"url": true, "ws_url": true, "token": true, "timeout": true, "commitment": true,
	},
	"program": {
		"vault_program_id": true, "restaking_program_id": true, "config_address": true,
	},
	"crank": {
		"keypair": true, "poll_interval": true, "followup_delay": true, "tick_timeout": true,
		"action_timeout": true, "confirm_timeout": true, "parallel_vaults": true,
		"failure_threshold": true, "failure_cooldown": true, "slot_subscribe": true,
		"dry_run": true, "state_db": true, "ledger_retention": true,
	},
	"logging": {
		"log_level": true, "log_file": true, "log_format": true,
	},
}

// knownSectionsList is the sorted section names for Levenshtein matching.
// Sorted for deterministic suggestions when two candidates have the same
// edit distance.
var knownSectionsList = sortedKeys(knownKeys)

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		if err := buildKeyError(key); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// buildKeyError describes one undecoded key. A top-level key is matched
// against section names (a common mistake is a key placed outside its
// section); a sectioned key is matched against that section's keys.
func buildKeyError(key toml.Key) error {
	section := key[0]

	sectionKeys, ok := knownKeys[section]
	if !ok {
		if suggestion := closestMatch(section, knownSectionsList); suggestion != "" {
			return fmt.Errorf("unknown config key %q: did you mean section [%s]?", key.String(), suggestion)
		}

		if owner := sectionOf(section); owner != "" {
			return fmt.Errorf("unknown config key %q: it belongs in section [%s]", key.String(), owner)
		}

		return fmt.Errorf("unknown config key %q", key.String())
	}

	if len(key) < 2 {
		return fmt.Errorf("unknown config key %q: expected a [%s] section", key.String(), section)
	}

	field := key[1]
	if sectionKeys[field] {
		return nil
	}

	if suggestion := closestMatch(field, sortedKeys(sectionKeys)); suggestion != "" {
		return fmt.Errorf("unknown config key %q: did you mean %q?", key.String(), section+"."+suggestion)
	}

	return fmt.Errorf("unknown config key %q", key.String())
}

// sectionOf returns the section that defines field, if any.
func sectionOf(field string) string {
	for _, section := range knownSectionsList {
		if knownKeys[section][field] {
			return section
		}
	}

	return ""
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
