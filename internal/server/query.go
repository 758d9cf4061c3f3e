package server

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"meshcore/pkg/resource"
)

// filterRecords keeps records matching every filter. Filter keys carry the
// operator as a suffix, see resource.OperatorField.
func filterRecords(records []resource.Attributes, filters map[string]any) []resource.Attributes {
	if len(filters) == 0 {
		return records
	}
	out := records[:0]
	for _, rec := range records {
		if matchesAll(rec, filters) {
			out = append(out, rec)
		}
	}
	return out
}

func matchesAll(rec resource.Attributes, filters map[string]any) bool {
	for key, operand := range filters {
		field, op := resource.SplitOperator(key)
		if !matches(rec[field], op, operand) {
			return false
		}
	}
	return true
}

func matches(value any, op string, operand any) bool {
	switch op {
	case "equal":
		return equal(value, operand)
	case "not":
		return !equal(value, operand)
	case "iequal":
		return strings.EqualFold(text(value), text(operand))
	case "inot":
		return !strings.EqualFold(text(value), text(operand))
	case "prefix":
		return value != nil && strings.HasPrefix(text(value), text(operand))
	case "iprefix":
		return value != nil && strings.HasPrefix(strings.ToLower(text(value)), strings.ToLower(text(operand)))
	case "suffix":
		return value != nil && strings.HasSuffix(text(value), text(operand))
	case "isuffix":
		return value != nil && strings.HasSuffix(strings.ToLower(text(value)), strings.ToLower(text(operand)))
	case "contains":
		return value != nil && strings.Contains(text(value), text(operand))
	case "icontains":
		return value != nil && strings.Contains(strings.ToLower(text(value)), strings.ToLower(text(operand)))
	case "gt", "gte", "lt", "lte":
		c, ok := compare(value, operand)
		if !ok {
			return false
		}
		switch op {
		case "gt":
			return c > 0
		case "gte":
			return c >= 0
		case "lt":
			return c < 0
		default:
			return c <= 0
		}
	case "null":
		want, _ := operand.(bool)
		return (value == nil) == want
	case "in", "notin":
		found := false
		items, _ := operand.([]any)
		for _, item := range items {
			if equal(value, item) {
				found = true
				break
			}
		}
		return found == (op == "in")
	}
	return false
}

func equal(a, b any) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

func text(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// compare orders two numbers or two strings.
func compare(a, b any) (int, bool) {
	if x, ok := number(a); ok {
		y, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	x, ok := a.(string)
	if !ok {
		return 0, false
	}
	y, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(x, y), true
}

// sortRecords applies sort tokens in order of precedence. A trailing "-"
// sorts descending; nil values sort first.
func sortRecords(records []resource.Attributes, tokens []string) {
	if len(tokens) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, token := range tokens {
			field, desc := token, false
			switch {
			case strings.HasSuffix(token, "-"):
				field, desc = strings.TrimSuffix(token, "-"), true
			case strings.HasSuffix(token, "+"):
				field = strings.TrimSuffix(token, "+")
			}
			c := order(records[i][field], records[j][field])
			if c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func order(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c, ok := compare(a, b); ok {
		return c
	}
	if x, ok := a.(bool); ok {
		if y, ok := b.(bool); ok && x != y {
			if !x {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(text(a), text(b))
}

func page(records []resource.Attributes, offset, limit any) []resource.Attributes {
	start := 0
	if n, ok := offset.(int64); ok && n > 0 {
		start = int(n)
	}
	if start >= len(records) {
		return nil
	}
	records = records[start:]
	if n, ok := limit.(int64); ok && int(n) < len(records) {
		records = records[:n]
	}
	return records
}

// project selects the returned attributes. An explicit fields list wins and
// always keeps the identifier; otherwise deferred fields are omitted unless
// included, and excluded fields are dropped.
func project(res resource.Resource, rec resource.Attributes, params map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	if fields := stringsOf(params["fields"]); len(fields) > 0 {
		out[res.IDField] = rec[res.IDField]
		for _, name := range fields {
			if v, ok := rec[name]; ok {
				out[name] = v
			}
		}
		return out
	}
	include := set(stringsOf(params["include"]))
	exclude := set(stringsOf(params["exclude"]))
	for _, f := range res.Fields {
		if _, skip := exclude[f.Name]; skip && !f.Identifier {
			continue
		}
		if _, ok := include[f.Name]; f.Deferred && !ok {
			continue
		}
		if v, ok := rec[f.Name]; ok {
			out[f.Name] = v
		}
	}
	return out
}

func stringsOf(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func set(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}
	return out
}
