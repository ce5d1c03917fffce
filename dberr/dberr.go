// Package dberr classifies native driver errors, typically found inside a
// *sqlmap.ExecutionError, by constraint kind. It understands pgx
// (*pgconn.PgError), lib/pq (*pq.Error), go-sql-driver/mysql
// (*mysql.MySQLError) and modernc.org/sqlite (*sqlite.Error).
package dberr

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
)

// SQLSTATE codes (class 23, integrity constraint violation).
const (
	stateClassConstraint = "23"
	stateNotNull         = "23502"
	stateUnique          = "23505"
)

// MySQL server error numbers.
const (
	mysqlDupEntry         = 1062
	mysqlBadNull          = 1048
	mysqlNoDefault        = 1364
	mysqlRowIsReferenced  = 1451
	mysqlNoReferencedRow  = 1452
	mysqlNoReferencedRow1 = 1216
	mysqlRowIsReferenced1 = 1217
	mysqlCheckViolated    = 3819
	mysqlConstraintFailed = 4025
	mysqlDupEntryWithKey  = 1586
	mysqlDupUnique        = 1169
)

// SQLite result codes.
const (
	sqliteConstraint        = 19
	sqliteConstraintNotNull = sqliteConstraint | 5<<8
	sqliteConstraintPK      = sqliteConstraint | 6<<8
	sqliteConstraintUnique  = sqliteConstraint | 8<<8
)

// IsConstraint reports whether err is any integrity constraint violation.
func IsConstraint(err error) bool {
	if code, ok := sqlState(err); ok {
		return strings.HasPrefix(code, stateClassConstraint)
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlDupEntry, mysqlBadNull, mysqlNoDefault, mysqlRowIsReferenced, mysqlNoReferencedRow,
			mysqlRowIsReferenced1, mysqlNoReferencedRow1, mysqlCheckViolated, mysqlConstraintFailed,
			mysqlDupEntryWithKey, mysqlDupUnique:
			return true
		}
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqliteConstraint ||
			strings.Contains(se.Error(), "constraint failed")
	}
	return false
}

// IsUniqueViolation reports whether err is a unique or primary key violation.
func IsUniqueViolation(err error) bool {
	if code, ok := sqlState(err); ok {
		return code == stateUnique
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlDupEntry || me.Number == mysqlDupEntryWithKey || me.Number == mysqlDupUnique
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqliteConstraintUnique, sqliteConstraintPK:
			return true
		}
		msg := se.Error()
		return strings.Contains(msg, "UNIQUE constraint failed") ||
			strings.Contains(msg, "PRIMARY KEY constraint failed")
	}
	return false
}

// IsNotNullViolation reports whether err is a NOT NULL violation.
func IsNotNullViolation(err error) bool {
	if code, ok := sqlState(err); ok {
		return code == stateNotNull
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlBadNull || me.Number == mysqlNoDefault
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqliteConstraintNotNull ||
			strings.Contains(se.Error(), "NOT NULL constraint failed")
	}
	return false
}

// sqlState extracts the SQLSTATE of PostgreSQL errors from either driver.
func sqlState(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	return "", false
}
