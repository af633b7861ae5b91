package sink

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-federation/pkg/models"
)

// MySQLTableSink writes rows into a table of an external MySQL server.
type MySQLTableSink struct {
	baseSink
	host     string
	port     string
	database string
	table    string
}

func newMySQLTableSink(table *models.Table) (DataSink, error) {
	props := table.Properties
	s := &MySQLTableSink{
		host:     props["host"],
		port:     props["port"],
		database: props["database"],
		table:    props["table"],
	}
	if s.database == "" {
		s.database = table.DBName
	}
	if s.table == "" {
		s.table = table.Name
	}
	if s.host == "" {
		return nil, fmt.Errorf("mysql table %s has no host", table.TableName())
	}
	if s.port == "" {
		s.port = "3306"
	}
	return s, nil
}

func (s *MySQLTableSink) ExplainString(prefix string, level ExplainLevel) string {
	var b strings.Builder
	b.WriteString(prefix + "MYSQL TABLE SINK\n")
	fmt.Fprintf(&b, "%s  TABLE: %s.%s\n", prefix, s.database, s.table)
	if level >= ExplainVerbose {
		fmt.Fprintf(&b, "%s  HOST: %s:%s\n", prefix, s.host, s.port)
	}
	return b.String()
}

func (s *MySQLTableSink) VerboseExplain(prefix string) string {
	return s.ExplainString(prefix, ExplainVerbose)
}

var _ DataSink = (*MySQLTableSink)(nil)
