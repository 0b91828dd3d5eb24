//go:build !sqlite

package storage

import (
	"errors"

	"snipebot/pkg/logx"
)

func openSQLite(Config, logx.Logger) (Store, error) {
	return nil, errors.New(`storage: sqlite driver requires building with -tags sqlite`)
}
