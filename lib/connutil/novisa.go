//go:build !visa

package connutil

import (
	"errors"

	"github.com/gotmc/telepath"
)

func openVISA(string) (telepath.Interface, error) {
	return nil, errors.New("VISA support not compiled in; rebuild with -tags visa")
}
