package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Storage key attributes. Document fields must not use these names.
const (
	attrPK = "pk"
	attrSK = "sk"
)

// isKeyAttr reports whether name is a storage key attribute.
func isKeyAttr(name string) bool {
	return name == attrPK || name == attrSK
}

// SplitFieldPath splits a dotted field path ("members.u1.name") into segments.
func SplitFieldPath(path string) ([]string, error) {
	segments := strings.Split(path, ".")
	for _, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("%w: field path %q has an empty segment", ErrInvalidArgument, path)
		}
	}
	if isKeyAttr(segments[0]) {
		return nil, fmt.Errorf("%w: field %q is reserved", ErrInvalidArgument, segments[0])
	}
	return segments, nil
}

// encodeUpdateFields marshals each value of a partial update.
func encodeUpdateFields(fields map[string]any) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(fields))
	for path, v := range fields {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: encode field %q: %v", ErrInvalidArgument, path, err)
		}
		out[path] = av
	}
	return out, nil
}

// setExpression is a SET update expression with its placeholders.
type setExpression struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// buildSetExpression builds "SET #f0_0.#f0_1 = :v0, ..." from field paths.
// Paths are processed in sorted order so the expression is deterministic.
func buildSetExpression(fields map[string]types.AttributeValue) (setExpression, error) {
	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	expr := setExpression{
		Names:  map[string]string{},
		Values: map[string]types.AttributeValue{},
	}
	var setClauses []string
	for i, path := range paths {
		segments, err := SplitFieldPath(path)
		if err != nil {
			return setExpression{}, err
		}
		placeholders := make([]string, len(segments))
		for j, seg := range segments {
			nameKey := fmt.Sprintf("#f%d_%d", i, j)
			expr.Names[nameKey] = seg
			placeholders[j] = nameKey
		}
		valueKey := fmt.Sprintf(":v%d", i)
		expr.Values[valueKey] = fields[path]
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", strings.Join(placeholders, "."), valueKey))
	}
	if len(setClauses) == 0 {
		return setExpression{}, fmt.Errorf("%w: update has no fields", ErrInvalidArgument)
	}
	expr.Expr = "SET " + strings.Join(setClauses, ", ")
	return expr, nil
}

// filterExpression is a conjunctive equality filter with its placeholders.
type filterExpression struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// buildFilterExpression builds "#q0 = :q0 AND #q1 = :q1" from equality filters.
func buildFilterExpression(filters []Filter) (filterExpression, error) {
	out := filterExpression{
		Names:  map[string]string{},
		Values: map[string]types.AttributeValue{},
	}
	var clauses []string
	for i, f := range filters {
		if f.Field == "" || strings.Contains(f.Field, ".") || isKeyAttr(f.Field) {
			return filterExpression{}, fmt.Errorf("%w: filter field %q", ErrInvalidArgument, f.Field)
		}
		av, err := attributevalue.Marshal(f.Value)
		if err != nil {
			return filterExpression{}, fmt.Errorf("%w: encode filter %q: %v", ErrInvalidArgument, f.Field, err)
		}
		nameKey := fmt.Sprintf("#q%d", i)
		valueKey := fmt.Sprintf(":q%d", i)
		out.Names[nameKey] = f.Field
		out.Values[valueKey] = av
		clauses = append(clauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}
	out.Expr = strings.Join(clauses, " AND ")
	return out, nil
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// stripKeys returns item without the storage key attributes.
func stripKeys(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		if isKeyAttr(k) {
			continue
		}
		out[k] = v
	}
	return out
}
