// Package find locates USB serial adapters, such as the Prologix GPIB-USB
// controller, by walking sysfs.
package find

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// SysRoot is the sysfs mount point. Tests point it at a fake tree.
var SysRoot = "/sys"

// maxClimb bounds how far above a tty's device link the USB descriptor
// files are searched for. ACM devices keep them one level up, FTDI
// adapters two.
const maxClimb = 3

type FilterFn func(*Usbtty) bool

// PrologixFilter matches the Prologix GPIB-USB controller, which enumerates
// as an FTDI FT245R with a Prologix product string or a "PX" serial.
func PrologixFilter(ut *Usbtty) bool {
	if strings.Contains(ut.Mfg, "Prologix") || strings.Contains(ut.Prod, "Prologix") {
		return true
	}
	return ut.IDv == "0403" && ut.IDp == "6001" && strings.HasPrefix(ut.Serial, "PX")
}

func SerialFilter(s string) FilterFn {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

// Find searches for a usb serial device and returns its name under /dev,
// e.g. "ttyUSB0". If filter is not nil only matching devices are
// considered. Exactly one candidate must remain.
func Find(filter FilterFn) (string, error) {
	ttys, err := AllUsbTtys()
	if err != nil {
		return "", err
	}
	var found Usbttys
	for i := range ttys {
		if filter == nil || filter(&ttys[i]) {
			found = append(found, ttys[i])
		}
	}
	switch len(found) {
	case 0:
		return "", errors.New("no matching usb serial device found")
	case 1:
		return found[0].Dev, nil
	}
	return "", fmt.Errorf("%d matching usb serial devices:\n%s", len(found), found)
}

type Usbtty struct {
	Dev, Path string
	IDp, IDv  string
	Mfg, Prod string
	Serial    string
}

func (u Usbtty) String() string {
	return fmt.Sprintf("%s (%s:%s %s %s serial %s)", u.Dev, u.IDv, u.IDp, u.Mfg, u.Prod, u.Serial)
}

type Usbttys []Usbtty

func (uts Usbttys) String() string {
	s := make([]string, 0, len(uts))
	for _, ut := range uts {
		s = append(s, ut.String())
	}
	return strings.Join(s, "\n")
}

// AllUsbTtys lists the ttys under SysRoot/class/tty whose device lives on
// a usb bus.
//
// Each entry is a symlink such as
//
//	ttyUSB0 -> ../../devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.0/ttyUSB0/tty/ttyUSB0
func AllUsbTtys() (Usbttys, error) {
	sct := filepath.Join(SysRoot, "class", "tty")
	entries, err := os.ReadDir(sct)
	if err != nil {
		return nil, err
	}
	var devs Usbttys
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		path := filepath.Join(sct, e.Name())
		abs, err := filepath.EvalSymlinks(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("skipping unresolvable tty")
			continue
		}
		if !strings.Contains(abs, "usb") {
			continue
		}
		ut := Usbtty{Dev: e.Name(), Path: abs}
		dev, err := filepath.EvalSymlinks(filepath.Join(abs, "device"))
		if err != nil {
			log.Debug().Err(err).Str("path", abs).Msg("usb tty without device link")
			devs = append(devs, ut)
			continue
		}
		if err := readUsbInfo(descriptorDir(dev), &ut); err != nil {
			log.Debug().Err(err).Str("path", abs).Msg("incomplete usb descriptor")
		}
		devs = append(devs, ut)
	}
	return devs, nil
}

// descriptorDir climbs from dev to the first directory holding idVendor.
func descriptorDir(dev string) string {
	dir := dev
	for i := 0; i < maxClimb; i++ {
		dir = filepath.Dir(dir)
		if _, err := os.Stat(filepath.Join(dir, "idVendor")); err == nil {
			return dir
		}
	}
	return filepath.Dir(dev)
}

// readUsbInfo fills in the ids and descriptor strings found in dir. It
// returns the last error encountered, ignoring missing files; errors do
// not prevent the remaining files from being read.
func readUsbInfo(dir string, ut *Usbtty) error {
	var err error
	for name, dst := range map[string]*string{
		"idProduct":    &ut.IDp,
		"idVendor":     &ut.IDv,
		"manufacturer": &ut.Mfg,
		"product":      &ut.Prod,
		"serial":       &ut.Serial,
	} {
		b, rerr := os.ReadFile(filepath.Join(dir, name))
		if rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = rerr
		}
		*dst = strings.TrimSpace(string(b))
	}
	return err
}
