package grammar

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuralValidator_Accepts(t *testing.T) {
	v := NewStructuralValidator()
	cases := map[string]struct {
		sql     string
		dialect string
	}{
		"simple": {sql: "CREATE TABLE t (id INT, name VARCHAR(20));", dialect: "postgres"},
		"hive partitions": {sql: "CREATE TABLE IF NOT EXISTS ods.t (\n  `id` BIGINT COMMENT 'id; key',\n  amount DECIMAL(10, 2)\n)\nPARTITIONED BY (dt STRING)\nSTORED AS ORC;", dialect: "hive"},
		"comments": {sql: "-- header; not a statement\n/* block ( */\nCREATE TABLE t (a INT); -- trailing", dialect: "postgres"},
		"comment on": {sql: "CREATE TABLE t (a INT);\nCOMMENT ON TABLE t IS 'it''s a table';", dialect: "postgres"},
		"ctas": {sql: "CREATE TABLE t AS SELECT count(*) FROM s;", dialect: "spark"},
		"like": {sql: "CREATE TABLE t LIKE s;", dialect: "mysql"},
		"no terminator": {sql: "create table t (a int)", dialect: ""},
		"escaped quote": {sql: "CREATE TABLE t (a INT COMMENT 'don\\'t');", dialect: "mysql"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, v.Validate(context.Background(), tc.sql, tc.dialect))
		})
	}
}

func TestStructuralValidator_Rejects(t *testing.T) {
	v := NewStructuralValidator()
	cases := map[string]struct {
		sql     string
		dialect string
		line    int
		message string
	}{
		"empty":             {sql: "  -- nothing\n", line: 1, message: "no statements"},
		"unclosed paren":    {sql: "CREATE TABLE t (\n  a INT;\n", line: 2, message: "statement terminator inside parentheses"},
		"unclosed at end":   {sql: "CREATE TABLE t (\n  a INT\n", line: 1, message: "unclosed '('"},
		"extra paren":       {sql: "CREATE TABLE t (a INT));", line: 1, message: "unexpected ')'"},
		"unterminated text": {sql: "CREATE TABLE t (a INT COMMENT 'x);", line: 1, message: "unterminated quoted text"},
		"open comment":      {sql: "CREATE TABLE t (a INT);\n/* never closed", line: 2, message: "unterminated block comment"},
		"stray comma":       {sql: "CREATE TABLE t (\n  a INT,\n);", line: 1, message: "stray comma"},
		"empty columns":     {sql: "CREATE TABLE t ();", line: 1, message: "empty column list"},
		"no name":           {sql: "CREATE TABLE (a INT);", line: 1, message: "without table name"},
		"no columns":        {sql: "CREATE TABLE t;", line: 1, message: "without column list"},
		"prose":             {sql: "Here is the converted SQL:\nCREATE TABLE t (a INT);", line: 1, message: "unexpected statement start"},
		"backtick postgres": {sql: "CREATE TABLE `t` (a INT);", dialect: "postgres", line: 1, message: "backtick"},
		"second statement":  {sql: "CREATE TABLE a (x INT);\n\nCREATE TABLE b (y INT,);", line: 3, message: "stray comma"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := v.Validate(context.Background(), tc.sql, tc.dialect)
			require.Error(t, err)
			var syntaxErr *SyntaxError
			require.True(t, errors.As(err, &syntaxErr))
			assert.Equal(t, tc.line, syntaxErr.Line)
			assert.Contains(t, syntaxErr.Message, tc.message)
		})
	}
}

func TestStructuralValidator_DoesNotMutate(t *testing.T) {
	v := NewStructuralValidator()
	sql := "CREATE TABLE t (a INT);"
	_ = v.Validate(context.Background(), sql, "hive")
	assert.Equal(t, "CREATE TABLE t (a INT);", sql)
}

func TestStructuralValidator_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewStructuralValidator().Validate(ctx, "CREATE TABLE t (a INT);", "hive")
	assert.ErrorIs(t, err, context.Canceled)
}
