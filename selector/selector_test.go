package selector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	props := map[string]any{
		"STREAM":   "2.13",
		"priority": int32(7),
		"ratio":    0.25,
		"region":   "eu-west",
		"urgent":   true,
		"count":    uint8(3),
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"STREAM = '2.13'", true},
		{"STREAM = '3.0'", false},
		{"STREAM <> '3.0'", true},
		{"stream = '2.13'", false},
		{"missing = 'x'", false},
		{"missing <> 'x'", false},
		{"NOT missing = 'x'", false},
		{"missing IS NULL", true},
		{"STREAM IS NOT NULL", true},
		{"priority > 4", true},
		{"priority >= 7 AND priority <= 7", true},
		{"priority < 4 OR STREAM = '2.13'", true},
		{"priority < 4 OR missing = 1", false},
		{"priority > 4 OR missing = 1", true},
		{"priority < 4 AND missing = 1", false},
		{"NOT (priority < 4 AND missing = 1)", true},
		{"priority + count = 10", true},
		{"priority * 2 - 4 = 10", true},
		{"priority / 0 = 1", false},
		{"-priority = -7", true},
		{"ratio = 2.5e-1", true},
		{"ratio < 1.0D", true},
		{"priority BETWEEN 5 AND 10", true},
		{"priority NOT BETWEEN 5 AND 10", false},
		{"missing BETWEEN 5 AND 10", false},
		{"region IN ('eu-west', 'us-east')", true},
		{"region NOT IN ('eu-west')", false},
		{"missing IN ('x')", false},
		{"region LIKE 'eu-%'", true},
		{"region LIKE 'eu_west'", true},
		{"region LIKE 'us%'", false},
		{"region NOT LIKE 'us%'", true},
		{"STREAM LIKE '2!.13' ESCAPE '!'", true},
		{"STREAM LIKE '2!_13' ESCAPE '!'", false},
		{"urgent", true},
		{"urgent = TRUE", true},
		{"urgent AND NOT FALSE", true},
		{"TRUE", true},
		{"FALSE", false},
		{"priority = '7'", false},
		{"STREAM > '1'", false},
		{"region = 'it''s'", false},
		{"priority > 4 and STREAM = '2.13'", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Matches(props))
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []string{
		"STREAM = ",
		"STREAM = '2.13",
		"= 'x'",
		"STREAM == 'x'",
		"(priority > 4",
		"priority > 4)",
		"1 + 2",
		"'x'",
		"a IN (1, 2)",
		"a IN ('x' 'y')",
		"a LIKE 5",
		"a LIKE 'x' ESCAPE 'ab'",
		"a LIKE 'x!' ESCAPE '!'",
		"a IS 5",
		"a BETWEEN 1 OR 2",
		"a NOT 5",
		"a # b",
		"x AND 5",
		"NOT 5",
	}

	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			require.Error(t, err)
			var syntaxErr *SyntaxError
			assert.True(t, errors.As(err, &syntaxErr), "want *SyntaxError, got %T", err)
			assert.Equal(t, expr, syntaxErr.Expr)
		})
	}
}

func TestSyntaxError_Position(t *testing.T) {
	_, err := Parse("STREAM = '2.13")
	var syntaxErr *SyntaxError
	require.ErrorAs(t, err, &syntaxErr)
	assert.Equal(t, 9, syntaxErr.Pos)
	assert.Contains(t, err.Error(), "unterminated string literal")
}

func TestSelector_String(t *testing.T) {
	assert.Equal(t, "STREAM = '2.13'", MustParse("STREAM = '2.13'").String())

	var nilSel *Selector
	assert.Equal(t, "", nilSel.String())
	assert.True(t, nilSel.Matches(nil))
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("STREAM =") })
}

func TestMatches_QuotedLiteral(t *testing.T) {
	s := MustParse("owner = 'it''s'")
	assert.True(t, s.Matches(map[string]any{"owner": "it's"}))
}

func TestMatches_UnsupportedPropertyType(t *testing.T) {
	s := MustParse("payload IS NULL")
	assert.True(t, s.Matches(map[string]any{"payload": []byte("x")}))
}
