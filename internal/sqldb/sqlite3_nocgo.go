//go:build !cgo

package sqldb

func isCgoBusy(error) bool {
	return false
}
