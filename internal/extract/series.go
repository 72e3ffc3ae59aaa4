package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/robertkrimen/otto/ast"
	"github.com/robertkrimen/otto/parser"
	"github.com/robertkrimen/otto/token"
)

type compiledSeries struct {
	rule SeriesRule
	re   *regexp.Regexp
}

func compileSeries(rule SeriesRule) (compiledSeries, error) {
	if strings.TrimSpace(rule.Name) == "" {
		return compiledSeries{}, fmt.Errorf("series rule needs a name")
	}
	if len(rule.Columns) == 0 {
		return compiledSeries{}, fmt.Errorf("series %q has no columns", rule.Name)
	}
	re, err := regexp.Compile(regexp.QuoteMeta(rule.Name) + `\s*:\s*\[(.*?)\]`)
	if err != nil {
		return compiledSeries{}, fmt.Errorf("series %q: %w", rule.Name, err)
	}
	return compiledSeries{rule: rule, re: re}, nil
}

// apply finds the array in text and writes it right-aligned into values.
func (s compiledSeries) apply(text string, values map[string]string) {
	m := s.re.FindStringSubmatch(text)
	if m == nil {
		return
	}
	for col, v := range AlignRight(parseArrayLiteral(m[1]), s.rule.Columns) {
		values[col] = v
	}
}

// AlignRight maps values onto columns so the last value lands on the last
// column. Surplus leading values are dropped; missing leading columns are "".
func AlignRight(values, columns []string) map[string]string {
	out := make(map[string]string, len(columns))
	offset := len(columns) - len(values)
	for i, col := range columns {
		j := i - offset
		if j >= 0 && j < len(values) {
			out[col] = values[j]
		} else {
			out[col] = ""
		}
	}
	return out
}

// parseArrayLiteral reads the elements of a script array literal without
// evaluating it. Numbers keep their source spelling, null becomes "".
// Anything the script parser rejects falls back to a comma split.
func parseArrayLiteral(inner string) []string {
	program, err := parser.ParseFile(nil, "", "["+inner+"]", 0)
	if err == nil && len(program.Body) == 1 {
		if stmt, ok := program.Body[0].(*ast.ExpressionStatement); ok {
			if arr, ok := stmt.Expression.(*ast.ArrayLiteral); ok {
				out := make([]string, 0, len(arr.Value))
				for _, el := range arr.Value {
					out = append(out, literalText(el))
				}
				return out
			}
		}
	}
	var out []string
	for _, part := range strings.Split(inner, ",") {
		out = append(out, strings.Trim(strings.TrimSpace(part), `"'`))
	}
	return out
}

func literalText(expr ast.Expression) string {
	switch e := expr.(type) {
	case *ast.NumberLiteral:
		return e.Literal
	case *ast.StringLiteral:
		return e.Value
	case *ast.UnaryExpression:
		if e.Operator == token.MINUS {
			if inner := literalText(e.Operand); inner != "" {
				return "-" + inner
			}
		}
		return ""
	default:
		return ""
	}
}
