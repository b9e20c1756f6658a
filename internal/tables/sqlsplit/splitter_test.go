package sqlsplit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit_simple(t *testing.T) {
	got := Split("SELECT 1; SELECT 2;")
	assert.Equal(t, []string{"SELECT 1", "SELECT 2"}, got)
}

func TestSplit_noTrailingSemicolon(t *testing.T) {
	got := Split("SELECT 1; SELECT 2")
	assert.Equal(t, []string{"SELECT 1", "SELECT 2"}, got)
}

func TestSplit_semicolonInsideString(t *testing.T) {
	got := Split(`INSERT INTO t (name) VALUES ('a;b'); SELECT 1;`)
	assert.Equal(t, []string{`INSERT INTO t (name) VALUES ('a;b')`, "SELECT 1"}, got)
}

func TestSplit_escapedQuote(t *testing.T) {
	got := Split(`SELECT 'it''s; fine';`)
	assert.Equal(t, []string{`SELECT 'it''s; fine'`}, got)
}

func TestSplit_dollarQuotedFunctionBody(t *testing.T) {
	query := `CREATE FUNCTION f() RETURNS void AS $$
BEGIN
  SELECT 1; SELECT 2;
END;
$$ LANGUAGE plpgsql;`
	got := Split(query)
	assert.Len(t, got, 1)
	assert.Contains(t, got[0], "SELECT 1; SELECT 2;")
}

func TestSplit_taggedDollarQuote(t *testing.T) {
	query := `CREATE FUNCTION f() RETURNS void AS $body$ SELECT 1; $body$ LANGUAGE sql;`
	got := Split(query)
	assert.Len(t, got, 1)
}

func TestSplit_emptyInput(t *testing.T) {
	assert.Empty(t, Split(""))
	assert.Empty(t, Split("   ;  ;  "))
}
