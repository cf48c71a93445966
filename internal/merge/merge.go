// Package merge combines the remote and local values of one logical key.
//
// The rules favor the local device:
//
//   - lists of records with an identifier: union by identifier, local wins
//   - other lists: union by value equality
//   - mappings: shallow merge, local wins per entry
//   - anything else: local wins outright
//
// Merge is pure. Absent values never reach it; callers copy the present
// side across instead.
package merge

import (
	"encoding/json"
)

// IDFields are the record fields tried, in order, as the identifier of a
// list element. The watched-items list uses "code"; groups use "id".
var IDFields = []string{"code", "id"}

// Merge returns the combination of remote and local.
func Merge(remote, local any) any {
	remoteList, remoteIsList := remote.([]any)
	localList, localIsList := local.([]any)
	if remoteIsList && localIsList {
		if field, ok := identifierField(localList); ok {
			return unionByID(remoteList, localList, field)
		}
		return unionByValue(remoteList, localList)
	}

	remoteMap, remoteIsMap := remote.(map[string]any)
	localMap, localIsMap := local.(map[string]any)
	if remoteIsMap && localIsMap {
		out := make(map[string]any, len(remoteMap)+len(localMap))
		for k, v := range remoteMap {
			out[k] = v
		}
		for k, v := range localMap {
			out[k] = v
		}
		return out
	}

	return local
}

// identifierField inspects the first local element. A list is treated as
// a list of identified records when that element is a mapping with a
// non-empty value under one of IDFields.
func identifierField(local []any) (string, bool) {
	if len(local) == 0 {
		return "", false
	}
	first, ok := local[0].(map[string]any)
	if !ok {
		return "", false
	}
	for _, field := range IDFields {
		if _, ok := idOf(first, field); ok {
			return field, true
		}
	}
	return "", false
}

// idOf returns the canonical identifier of item under field.
func idOf(item any, field string) (string, bool) {
	rec, ok := item.(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := rec[field]
	if !ok || v == nil {
		return "", false
	}
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", false
		}
		return "s:" + id, true
	case bool:
		if !id {
			return "", false
		}
	case float64:
		if id == 0 {
			return "", false
		}
	}
	return "v:" + canonical(v), true
}

// unionByID builds the identifier union of remote and local.
//
// The result holds the remote-only records in remote order followed by the
// local records in local order. A local record replaces any remote record
// with the same identifier. Within one side, a repeated identifier keeps
// the position of its first occurrence and the value of its last. Records
// without an identifier are dropped.
func unionByID(remote, local []any, field string) []any {
	localRecs, localIDs := dedupeByID(local, field)
	remoteRecs, _ := dedupeByID(remote, field)

	out := make([]any, 0, len(remoteRecs)+len(localRecs))
	for _, item := range remoteRecs {
		id, _ := idOf(item, field)
		if _, shadowed := localIDs[id]; shadowed {
			continue
		}
		out = append(out, item)
	}
	return append(out, localRecs...)
}

// dedupeByID returns the identified records of list, one per identifier,
// and the position of each identifier in the result.
func dedupeByID(list []any, field string) ([]any, map[string]int) {
	index := make(map[string]int, len(list))
	out := make([]any, 0, len(list))
	for _, item := range list {
		id, ok := idOf(item, field)
		if !ok {
			continue
		}
		if i, seen := index[id]; seen {
			out[i] = item
			continue
		}
		index[id] = len(out)
		out = append(out, item)
	}
	return out, index
}

// unionByValue returns the distinct values of remote ++ local in order of
// first occurrence. Equality is by canonical JSON encoding.
func unionByValue(remote, local []any) []any {
	seen := make(map[string]bool, len(remote)+len(local))
	out := make([]any, 0, len(remote)+len(local))
	for _, list := range [][]any{remote, local} {
		for _, item := range list {
			k := canonical(item)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, item)
		}
	}
	return out
}

// canonical encodes v deterministically; encoding/json sorts map keys.
func canonical(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "!" + err.Error()
	}
	return string(data)
}
