package broker

import "strings"

// route resolves the set of destination queue names for a publish,
// given the bindings of the named exchange (spec.md §4.3). Duplicate
// destinations are collapsed.
func route(ex *Exchange, bindings []Binding, routingKey string) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(dest string) {
		if _, ok := seen[dest]; ok {
			return
		}
		seen[dest] = struct{}{}
		out = append(out, dest)
	}

	switch ex.Type {
	case ExchangeDirect:
		for _, b := range bindings {
			if b.RoutingKey == routingKey {
				add(b.Destination)
			}
		}
	case ExchangeFanout:
		for _, b := range bindings {
			add(b.Destination)
		}
	case ExchangeTopic:
		keyWords := splitWords(routingKey)
		for _, b := range bindings {
			if topicMatch(keyWords, splitWords(b.RoutingKey)) {
				add(b.Destination)
			}
		}
	case ExchangeHeaders:
		// Not implemented: declaration is accepted but matching never
		// succeeds (spec.md §4.3).
	}

	return out
}

func splitWords(s string) []string {
	if s == "" {
		return nil
	}

	return strings.Split(s, ".")
}

// topicMatch implements the AMQP topic-exchange pattern grammar:
// literal words must match exactly, "*" matches exactly one word, "#"
// matches zero or more words with backtracking across word boundaries.
func topicMatch(key, pattern []string) bool {
	return matchWords(key, pattern)
}

func matchWords(key, pattern []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}

	head := pattern[0]

	switch head {
	case "#":
		// Zero or more words: try consuming 0..len(key) words from key
		// before matching the rest of the pattern.
		for i := 0; i <= len(key); i++ {
			if matchWords(key[i:], pattern[1:]) {
				return true
			}
		}
		return false
	case "*":
		if len(key) == 0 {
			return false
		}
		return matchWords(key[1:], pattern[1:])
	default:
		if len(key) == 0 || key[0] != head {
			return false
		}
		return matchWords(key[1:], pattern[1:])
	}
}
