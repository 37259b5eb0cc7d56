package utils

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

const mysqlDuplicateEntry = 1062

// IsDuplicateKeyError reports a MySQL unique index violation.
func IsDuplicateKeyError(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
