// internal/detection/dedup.go
package detection

import (
	"strings"

	"github.com/xkilldash9x/noticescan/api/schemas"
)

type position struct {
	group, index int
}

// Deduplicate merges candidate groups that describe the same notice, in the
// order the groups are given. A candidate whose HTML is a strict substring of
// another's is absorbed by the containing one. Identical HTML is absorbed by
// the later candidate in merge order. Survivors stay in their own group, at
// their original relative position, and carry the union of the techniques of
// everything they absorbed. Candidates with empty HTML take no part.
func Deduplicate(groups ...[]schemas.NoticeCandidate) [][]schemas.NoticeCandidate {
	var flat []position
	for g, group := range groups {
		for i := range group {
			flat = append(flat, position{g, i})
		}
	}
	html := func(p position) string { return groups[p.group][p.index].HTML }

	// absorber[k] is the flat index of a candidate absorbing flat[k], or -1.
	// Each step moves to longer HTML or, for equal HTML, to a later index,
	// so following absorbers always ends at a survivor.
	absorber := make([]int, len(flat))
	for k, p := range flat {
		absorber[k] = -1
		h := html(p)
		if h == "" {
			continue
		}
		for j, q := range flat {
			if j == k {
				continue
			}
			other := html(q)
			if other == "" {
				continue
			}
			if (other == h && j > k) || (len(other) > len(h) && strings.Contains(other, h)) {
				absorber[k] = j
				break
			}
		}
	}

	survivorOf := func(k int) int {
		for absorber[k] >= 0 {
			k = absorber[k]
		}
		return k
	}

	// Techniques are collected in merge order.
	techniques := make(map[int][]string)
	for k, p := range flat {
		root := survivorOf(k)
		for _, t := range groups[p.group][p.index].Techniques {
			techniques[root] = appendUnique(techniques[root], t)
		}
	}

	out := make([][]schemas.NoticeCandidate, len(groups))
	for g := range groups {
		out[g] = make([]schemas.NoticeCandidate, 0, len(groups[g]))
	}
	for k, p := range flat {
		if absorber[k] >= 0 {
			continue
		}
		c := groups[p.group][p.index]
		if ts, ok := techniques[k]; ok {
			c.Techniques = ts
		}
		out[p.group] = append(out[p.group], c)
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
