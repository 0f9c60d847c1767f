package pg

import (
	"database/sql"

	"github.com/pkg/errors"
)

// CheckNoRows maps sql.ErrNoRows to outErr and returns every other error
// unchanged.
func CheckNoRows(inErr, outErr error) error {
	if IsNoRows(inErr) {
		return outErr
	}
	return inErr
}

func IsNoRows(err error) bool {
	return err != nil && errors.Is(err, sql.ErrNoRows)
}
