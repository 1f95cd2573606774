package source

import "database/sql"

// odbcDriverName is the database/sql driver name used for every ODBC
// source and destination. Per the spec, ODBC connectivity is an external
// collaborator: the runtime environment is expected to register a driver
// under this name (e.g. via an unixODBC cgo driver) before any pipeline
// referencing an odbc source or destination is run.
const odbcDriverName = "odbc"

func openOdbc(connectionString string) (*sql.DB, error) {
	return sql.Open(odbcDriverName, connectionString)
}
