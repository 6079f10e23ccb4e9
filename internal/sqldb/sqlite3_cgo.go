//go:build cgo

package sqldb

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

func isCgoBusy(err error) bool {
	var e sqlite3.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == sqlite3.ErrBusy || e.Code == sqlite3.ErrLocked
}
