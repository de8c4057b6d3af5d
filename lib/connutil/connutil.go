// Package connutil turns command-line flags, optionally backed by a TOML
// profile, into a connected telepath.Device.
package connutil

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gotmc/telepath"
	"github.com/gotmc/telepath/driver/prologix"
	"github.com/gotmc/telepath/driver/tcp"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Transport names the kind of connection a Conn selects.
type Transport string

const (
	VISA        Transport = "visa"
	PrologixLAN Transport = "prologix"
	PrologixUSB Transport = "prologix-usb"
	Telnet      Transport = "telnet"
	TCP         Transport = "tcp"
)

// noAddr marks an unset GPIB address.
const noAddr = -1

type Conn struct {
	Host    string        `toml:"host"`
	Port    int           `toml:"port"`
	GPIB    int           `toml:"gpib"`
	SAD     int           `toml:"sad"`
	Serial  string        `toml:"serial"`
	Visa    string        `toml:"visa"`
	Telnet  bool          `toml:"telnet"`
	Prompt  string        `toml:"prompt"`
	Timeout time.Duration `toml:"timeout"`

	Config  string `toml:"-"`
	Profile string `toml:"-"`

	set map[string]bool
}

// Profiles is the layout of a connection profile file:
//
//	[profiles.osa]
//	host = "192.168.1.15"
//	gpib = 23
//	timeout = "2s"
type Profiles struct {
	Profiles map[string]Conn `toml:"profiles"`
}

// AddFlags registers the connection flags on fs, or on the default flag
// set if fs is nil. It is to be called before [flag.Parse].
func (c *Conn) AddFlags(fs *flag.FlagSet) {
	if fs == nil {
		fs = flag.CommandLine
	}
	if c.Timeout == 0 {
		c.Timeout = time.Second
	}
	if c.GPIB == 0 {
		c.GPIB = noAddr
	}
	if c.SAD == 0 {
		c.SAD = noAddr
	}
	fs.StringVar(&c.Host, "host", c.Host, "IP address or host name; a bare number is an address on the local subnet")
	fs.IntVar(&c.Port, "port", c.Port, "TCP port")
	fs.IntVar(&c.GPIB, "gpib", c.GPIB, "GPIB primary address; with -host a Prologix GPIB-ETHERNET is used")
	fs.IntVar(&c.SAD, "sad", c.SAD, "GPIB secondary address (96-126)")
	fs.StringVar(&c.Serial, "serial", c.Serial, `serial port of a Prologix GPIB-USB, or "auto"`)
	fs.StringVar(&c.Visa, "visa", c.Visa, "VISA resource; other connection flags are ignored")
	fs.BoolVar(&c.Telnet, "telnet", c.Telnet, "talk to a prompted (telnet-style) device")
	fs.StringVar(&c.Prompt, "prompt", c.Prompt, "telnet prompts, comma separated")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "communication timeout")
	fs.StringVar(&c.Config, "config", c.Config, "TOML file of connection profiles")
	fs.StringVar(&c.Profile, "profile", c.Profile, "profile to load from -config")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
		fmt.Fprintln(fs.Output(), "\nTCP is used by default. If both -gpib and -host are set the Prologix\n"+
			"bridge is used instead. If -visa is set the other connection flags are ignored.")
	}
	c.set = nil
}

// Parsed records which flags of fs were given explicitly, so that a profile
// does not override them. It is to be called after [flag.Parse].
func (c *Conn) Parsed(fs *flag.FlagSet) {
	if fs == nil {
		fs = flag.CommandLine
	}
	c.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { c.set[f.Name] = true })
}

// LoadProfile reads the named profile from a TOML file and fills every
// field the profile defines and the command line did not set.
func (c *Conn) LoadProfile(path, name string) error {
	var p Profiles
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return fmt.Errorf("reading profiles: %w", err)
	}
	prof, ok := p.Profiles[name]
	if !ok {
		return fmt.Errorf("profile %q not found in %s", name, path)
	}
	use := func(key string) bool {
		return !c.set[key] && md.IsDefined("profiles", name, key)
	}
	if use("host") {
		c.Host = prof.Host
	}
	if use("port") {
		c.Port = prof.Port
	}
	if use("gpib") {
		c.GPIB = prof.GPIB
	}
	if use("sad") {
		c.SAD = prof.SAD
	}
	if use("serial") {
		c.Serial = prof.Serial
	}
	if use("visa") {
		c.Visa = prof.Visa
	}
	if use("telnet") {
		c.Telnet = prof.Telnet
	}
	if use("prompt") {
		c.Prompt = prof.Prompt
	}
	if use("timeout") {
		c.Timeout = prof.Timeout
	}
	return nil
}

// Transport picks the connection kind. A VISA resource wins; otherwise a
// GPIB address with a host selects the Prologix LAN bridge, with a serial
// port the Prologix USB bridge. A host alone needs a port unless -telnet.
func (c *Conn) Transport() (Transport, error) {
	gpib := c.GPIB != noAddr
	switch {
	case c.Visa != "":
		return VISA, nil
	case c.Host != "" && gpib:
		return PrologixLAN, nil
	case c.Host != "" && c.Telnet:
		return Telnet, nil
	case c.Host != "" && c.Port != 0:
		return TCP, nil
	case c.Host != "":
		return "", errors.New("TCP port must be specified")
	case c.Serial != "" && gpib:
		return PrologixUSB, nil
	case gpib:
		return "", errors.New("cannot connect with GPIB without a host, serial port or VISA resource")
	}
	return "", errors.New("inadequate interface information specified")
}

// Open connects according to the flags. The returned cleanup flushes and
// closes the device, returning local control to the front panel where the
// transport supports it.
func (c *Conn) Open(log zerolog.Logger) (dev *telepath.Device, cleanup func() error, err error) {
	if c.Config != "" {
		if c.Profile == "" {
			return nil, nil, errors.New("-config needs -profile")
		}
		if err := c.LoadProfile(c.Config, c.Profile); err != nil {
			return nil, nil, err
		}
	}
	kind, err := c.Transport()
	if err != nil {
		return nil, nil, err
	}
	iface, err := c.dial(kind, log)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("transport", string(kind)).Str("dev", fmt.Sprint(iface)).Msg("connected")
	dev = telepath.New(iface, telepath.WithLogger(log))
	cleanup = func() error {
		_, ferr := dev.Flush()
		return multierr.Combine(ferr, dev.Close())
	}
	return dev, cleanup, nil
}

func (c *Conn) dial(kind Transport, log zerolog.Logger) (telepath.Interface, error) {
	var opts []prologix.Option
	if c.SAD != noAddr {
		opts = append(opts, prologix.WithSecondaryAddress(c.SAD))
	}
	opts = append(opts, prologix.WithLogger(log))

	switch kind {
	case VISA:
		return openVISA(c.Visa)
	case PrologixLAN:
		if c.Port != 0 {
			opts = append(opts, prologix.WithPort(c.Port))
		}
		return prologix.Dial(c.Host, c.GPIB, c.Timeout, opts...)
	case PrologixUSB:
		port := c.Serial
		if port == "auto" {
			port = ""
		}
		return prologix.OpenVCP(port, c.GPIB, c.Timeout, opts...)
	case Telnet:
		topts := []tcp.TelnetOption{
			tcp.WithConnOption(tcp.WithTimeout(c.Timeout)),
			tcp.WithConnOption(tcp.WithLogger(log)),
		}
		if c.Prompt != "" {
			topts = append(topts, tcp.WithPrompts(strings.Split(c.Prompt, ",")...))
		}
		return tcp.DialTelnet(c.Host, c.Port, topts...)
	case TCP:
		return tcp.Dial(c.Host, c.Port, tcp.WithTimeout(c.Timeout), tcp.WithLogger(log))
	}
	return nil, fmt.Errorf("unknown transport %q", kind)
}

// String describes the selected connection.
func (c *Conn) String() string {
	kind, err := c.Transport()
	if err != nil {
		return "unconfigured"
	}
	switch kind {
	case VISA:
		return c.Visa
	case PrologixLAN:
		return c.Host + "/gpib" + strconv.Itoa(c.GPIB)
	case PrologixUSB:
		return c.Serial + "/gpib" + strconv.Itoa(c.GPIB)
	}
	return c.Host + ":" + strconv.Itoa(c.Port)
}
