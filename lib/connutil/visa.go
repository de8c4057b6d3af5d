//go:build visa

package connutil

import (
	"github.com/gotmc/telepath"
	"github.com/gotmc/telepath/driver/visa"
)

func openVISA(resource string) (telepath.Interface, error) {
	return visa.Open(resource)
}
