package store

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/guyvdb/kvrepo/fault"
)

// HashReader resolves a hash field for pattern lookups. found is false when
// the key or the field does not exist.
type HashReader func(key, field string) (value []byte, found bool, err error)

type sortEntry struct {
	member  string
	weight  []byte
	missing bool
	score   float64
}

// SortMembers applies SORT semantics to the members of a set for backends
// without a native sort. read must return values that stay valid after the
// call.
//
// A By pattern without '*' disables sorting. Missing weights count as 0 in a
// numeric sort and sort first in an alpha sort. Ties are broken on the member.
func SortMembers(members []string, opts SortOptions, read HashReader) ([][]byte, error) {
	sorting := opts.By == "" || strings.Contains(opts.By, "*")

	entries := make([]sortEntry, len(members))
	for i, member := range members {
		e := sortEntry{member: member, weight: []byte(member)}

		if sorting && opts.By != "" {
			w, found, err := lookupPattern(opts.By, member, read)
			if err != nil {
				return nil, err
			}
			e.weight, e.missing = w, !found
		}

		if sorting && !opts.Alpha && !e.missing {
			score, err := parseScore(e.weight)
			if err != nil {
				return nil, fmt.Errorf("%w: one or more scores can't be converted into double", fault.ErrSortFailed)
			}
			e.score = score
		}
		entries[i] = e
	}

	if sorting {
		slices.SortFunc(entries, func(a, b sortEntry) int {
			var c int
			switch {
			case opts.Alpha && a.missing != b.missing:
				if a.missing {
					c = -1
				} else {
					c = 1
				}
			case opts.Alpha:
				c = bytes.Compare(a.weight, b.weight)
			default:
				c = cmp.Compare(a.score, b.score)
			}
			if c != 0 {
				return c
			}
			return strings.Compare(a.member, b.member)
		})
	}

	entries = applyLimit(entries, opts.Limit)

	if len(opts.Get) == 0 {
		out := make([][]byte, len(entries))
		for i, e := range entries {
			out[i] = []byte(e.member)
		}
		return out, nil
	}

	out := make([][]byte, 0, len(entries)*len(opts.Get))
	for _, e := range entries {
		for _, pattern := range opts.Get {
			if pattern == "#" {
				out = append(out, []byte(e.member))
				continue
			}
			v, found, err := lookupPattern(pattern, e.member, read)
			if err != nil {
				return nil, err
			}
			if !found {
				v = nil
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// ResolvePattern substitutes member into pattern and splits off the hash
// field. ok is false when the pattern has no '*' or addresses a plain key.
func ResolvePattern(pattern, member string) (key, field string, ok bool) {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return "", "", false
	}
	rest := pattern[star+1:]
	arrow := strings.Index(rest, "->")
	if arrow < 0 || arrow+2 == len(rest) {
		return "", "", false
	}
	return pattern[:star] + member + rest[:arrow], rest[arrow+2:], true
}

func lookupPattern(pattern, member string, read HashReader) ([]byte, bool, error) {
	key, field, ok := ResolvePattern(pattern, member)
	if !ok {
		return nil, false, nil
	}
	return read(key, field)
}

func parseScore(b []byte) (float64, error) {
	s := strings.TrimLeft(string(b), " \t\n\r\v\f")
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func applyLimit(entries []sortEntry, limit *Limit) []sortEntry {
	if limit == nil {
		return entries
	}
	start := limit.Offset
	if start < 0 {
		start = 0
	}
	n := int64(len(entries))
	if start >= n {
		return entries[:0]
	}
	end := n
	if limit.Count >= 0 && start+limit.Count < n {
		end = start + limit.Count
	}
	return entries[start:end]
}
