// Package grammar maps destination formats to validation dialects and
// checks candidate DDL against them.
package grammar

import (
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/MimeLyc/chunked-sql-translator/pkg/log"
	"gopkg.in/yaml.v3"
)

// defaultDialects maps lower-cased destination format names to dialect
// identifiers. An empty identifier means the generic dialect.
var defaultDialects = map[string]string{
	"gbase8c":  "postgres",
	"gbase_8c": "postgres",
	"gbase 8c": "postgres",

	"gbasehd":  "hive",
	"gbase_hd": "hive",
	"gbase hd": "hive",

	"hive":       "hive",
	"hiveql":     "hive",
	"spark":      "spark",
	"spark_sql":  "spark",
	"databricks": "databricks",
	"presto":     "presto",
	"trino":      "trino",

	"postgres":   "postgres",
	"postgresql": "postgres",
	"pgsql":      "postgres",

	"mysql":     "mysql",
	"oracle":    "oracle",
	"sqlite":    "sqlite",
	"sqlserver": "",
	"mssql":     "",

	"clickhouse": "clickhouse",
	"doris":      "doris",
	"starrocks":  "starrocks",
	"redshift":   "redshift",
	"snowflake":  "snowflake",
	"bigquery":   "bigquery",

	"default": "",
}

// Dialects resolves destination formats to dialect identifiers.
type Dialects struct {
	byFormat map[string]string
}

// DefaultDialects returns the built-in table.
func DefaultDialects() *Dialects {
	return &Dialects{byFormat: maps.Clone(defaultDialects)}
}

type dialectFile struct {
	Dialects map[string]string `yaml:"dialects"`
}

// LoadDialects reads a YAML file of the form
//
//	dialects:
//	  gbase hd: hive
//	  my_warehouse: postgres
//
// and layers it over the built-in table.
func LoadDialects(path string) (*Dialects, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dialect map: %w", err)
	}
	var file dialectFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse dialect map %s: %w", path, err)
	}
	d := DefaultDialects()
	for format, dialect := range file.Dialects {
		d.byFormat[normalizeFormat(format)] = strings.ToLower(strings.TrimSpace(dialect))
	}
	return d, nil
}

// Lookup returns the dialect for a destination format. Unknown formats
// resolve to "" (no validation) with a warning.
func (d *Dialects) Lookup(format string) string {
	key := normalizeFormat(format)
	if dialect, ok := d.byFormat[key]; ok {
		return dialect
	}
	log.Warn("No grammar dialect mapped for destination format %q, skipping validation", format)
	return d.byFormat["default"]
}

func normalizeFormat(format string) string {
	return strings.ToLower(strings.TrimSpace(format))
}
