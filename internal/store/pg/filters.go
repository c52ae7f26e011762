package pg

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/liliang-cn/ragstore/internal/domain"
)

// topLevelColumns are filterable as real columns instead of JSON paths.
var topLevelColumns = map[string]struct{}{
	"uploaded_by":  {},
	"uploaded_at":  {},
	"uploaded_via": {},
	"mime_type":    {},
	"filename":     {},
	"content_hash": {},
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\- ]*$`)

// CompileFilters turns a MongoDB-style expression tree into a
// parameterised SQL fragment over the documents table. alias is the table
// alias; paramOffset is how many placeholders precede the fragment, so the
// first bound value becomes $paramOffset+1. All literals are bound as
// parameters, never interpolated. An empty filter compiles to TRUE.
func CompileFilters(filters map[string]interface{}, alias string, paramOffset int) (string, []interface{}, error) {
	if len(filters) == 0 {
		return "TRUE", nil, nil
	}

	c := &filterCompiler{alias: alias, nextParam: paramOffset + 1}
	clause, err := c.compileMap(filters)
	if err != nil {
		return "", nil, err
	}
	return clause, c.params, nil
}

type filterCompiler struct {
	alias     string
	nextParam int
	params    []interface{}
}

func (c *filterCompiler) bind(value interface{}) string {
	c.params = append(c.params, value)
	placeholder := fmt.Sprintf("$%d", c.nextParam)
	c.nextParam++
	return placeholder
}

// compileMap handles one expression map; multiple entries are implicitly
// ANDed.
func (c *filterCompiler) compileMap(node map[string]interface{}) (string, error) {
	var clauses []string

	for _, key := range sortedKeys(node) {
		value := node[key]

		var (
			clause string
			err    error
		)
		switch key {
		case "$and", "$or":
			clause, err = c.compileLogical(key, value)
		case "$not":
			clause, err = c.compileNot(value)
		default:
			if strings.HasPrefix(key, "$") {
				return "", fmt.Errorf("%w: unsupported operator %q", domain.ErrFilterParse, key)
			}
			clause, err = c.compileField(key, value)
		}
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}

	if len(clauses) == 1 {
		return clauses[0], nil
	}
	return "(" + strings.Join(clauses, " AND ") + ")", nil
}

func (c *filterCompiler) compileLogical(op string, value interface{}) (string, error) {
	children, ok := value.([]interface{})
	if !ok {
		return "", fmt.Errorf("%w: %s expects an array", domain.ErrFilterParse, op)
	}
	if len(children) == 0 {
		return "", fmt.Errorf("%w: %s requires at least one condition", domain.ErrFilterParse, op)
	}

	joiner := " AND "
	if op == "$or" {
		joiner = " OR "
	}

	var clauses []string
	for _, child := range children {
		childMap, ok := child.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("%w: %s conditions must be objects", domain.ErrFilterParse, op)
		}
		clause, err := c.compileMap(childMap)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}

	return "(" + strings.Join(clauses, joiner) + ")", nil
}

func (c *filterCompiler) compileNot(value interface{}) (string, error) {
	child, ok := value.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("%w: $not expects an object", domain.ErrFilterParse)
	}
	clause, err := c.compileMap(child)
	if err != nil {
		return "", err
	}
	return "NOT (" + clause + ")", nil
}

func (c *filterCompiler) compileField(field string, value interface{}) (string, error) {
	if !fieldNamePattern.MatchString(field) {
		return "", fmt.Errorf("%w: invalid field name %q", domain.ErrFilterParse, field)
	}

	if ops, ok := value.(map[string]interface{}); ok {
		var clauses []string
		for _, op := range sortedKeys(ops) {
			clause, err := c.compileComparison(field, op, ops[op])
			if err != nil {
				return "", err
			}
			clauses = append(clauses, clause)
		}
		if len(clauses) == 1 {
			return clauses[0], nil
		}
		return "(" + strings.Join(clauses, " AND ") + ")", nil
	}

	return c.compileComparison(field, "$eq", value)
}

func (c *filterCompiler) compileComparison(field, op string, value interface{}) (string, error) {
	_, isColumn := topLevelColumns[field]

	switch op {
	case "$eq", "$ne":
		comparator := "="
		if op == "$ne" {
			comparator = "!="
		}
		if isColumn {
			return fmt.Sprintf("%s.%s %s %s", c.alias, field, comparator, c.bind(stringify(value))), nil
		}
		return fmt.Sprintf("%s.user_metadata->>'%s' %s %s", c.alias, field, comparator, c.bind(stringify(value))), nil

	case "$gt", "$gte", "$lt", "$lte":
		comparator := map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}[op]
		number, ok := toFloat(value)
		if !ok {
			if isColumn {
				// Columns such as uploaded_at compare directly.
				return fmt.Sprintf("%s.%s %s %s", c.alias, field, comparator, c.bind(stringify(value))), nil
			}
			return "", fmt.Errorf("%w: %s requires a numeric value for field %q", domain.ErrFilterParse, op, field)
		}
		if isColumn {
			return fmt.Sprintf("%s.%s %s %s", c.alias, field, comparator, c.bind(number)), nil
		}
		return fmt.Sprintf("(%s.user_metadata->>'%s')::numeric %s %s", c.alias, field, comparator, c.bind(number)), nil

	case "$in", "$nin":
		values, err := toStringSlice(value)
		if err != nil {
			return "", fmt.Errorf("%w: %s requires an array for field %q", domain.ErrFilterParse, op, field)
		}
		if isColumn {
			clause := fmt.Sprintf("%s.%s = ANY(%s::text[])", c.alias, field, c.bind(values))
			if op == "$nin" {
				return "NOT (" + clause + ")", nil
			}
			return clause, nil
		}
		clause := fmt.Sprintf("%s.user_metadata->'%s' ?| %s::text[]", c.alias, field, c.bind(values))
		if op == "$nin" {
			return "NOT (" + clause + ")", nil
		}
		return clause, nil

	case "$all":
		values, err := toStringSlice(value)
		if err != nil {
			return "", fmt.Errorf("%w: $all requires an array for field %q", domain.ErrFilterParse, field)
		}
		return fmt.Sprintf("%s.user_metadata->'%s' ?& %s::text[]", c.alias, field, c.bind(values)), nil

	case "$exists":
		wanted, ok := value.(bool)
		if !ok {
			return "", fmt.Errorf("%w: $exists requires a boolean for field %q", domain.ErrFilterParse, field)
		}
		clause := fmt.Sprintf("%s.user_metadata ? '%s'", c.alias, field)
		if !wanted {
			return "NOT (" + clause + ")", nil
		}
		return clause, nil
	}

	return "", fmt.Errorf("%w: unsupported operator %q", domain.ErrFilterParse, op)
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return fmt.Sprintf("%t", v)
	case float64:
		// JSON numbers arrive as float64; keep integers unpadded.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func toStringSlice(value interface{}) ([]string, error) {
	raw, ok := value.([]interface{})
	if !ok {
		if typed, ok := value.([]string); ok {
			return typed, nil
		}
		return nil, fmt.Errorf("not an array")
	}
	out := make([]string, len(raw))
	for i, item := range raw {
		out[i] = stringify(item)
	}
	return out, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return keys
}
