// Copyright (c) 2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package tcp

import (
	"regexp"
	"strings"
	"time"

	"github.com/gotmc/telepath"
)

// telnetFlushWindow is used by Flush when called with a zero timeout.
const telnetFlushWindow = 250 * time.Millisecond

// Telnet is a TCP connection to a device that prints a ready-for-input
// prompt after every reply. The prompt is removed from replies.
type Telnet struct {
	*Conn
	reEnd   *regexp.Regexp // prompt at the end of the buffer
	reMulti *regexp.Regexp // leading run of echoed prompts
}

type telnetConfig struct {
	config
	prompts []string
	initial string
}

// TelnetOption applies an option to a Telnet connection.
type TelnetOption func(*telnetConfig)

// WithPrompts sets the ready prompt. Several prompts are matched as
// alternatives.
func WithPrompts(prompts ...string) TelnetOption {
	return func(c *telnetConfig) { c.prompts = prompts }
}

// WithInitial sends cmd right after connecting, before waiting for the
// first prompt.
func WithInitial(cmd string) TelnetOption {
	return func(c *telnetConfig) { c.initial = cmd }
}

// WithConnOption applies a TCP Option to the Telnet connection.
func WithConnOption(opt Option) TelnetOption {
	return func(c *telnetConfig) { opt(&c.config) }
}

// DialTelnet connects to a prompted device and waits for its first
// prompt. A port of 0 selects 23.
func DialTelnet(host string, port int, opts ...TelnetOption) (*Telnet, error) {
	cfg := telnetConfig{config: defaultConfig(), prompts: []string{"> "}}
	cfg.eom = "\n"
	for _, opt := range opts {
		opt(&cfg)
	}
	// Prompts are stripped explicitly; generic trimming would eat them.
	cfg.trim = false
	if port == 0 {
		port = 23
	}
	conn, err := dial(host, port, cfg.config)
	if err != nil {
		return nil, err
	}
	t := newTelnet(conn, cfg.prompts)
	if err := t.handshake(cfg.initial); err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

func newTelnet(conn *Conn, prompts []string) *Telnet {
	quoted := make([]string, len(prompts))
	for i, p := range prompts {
		quoted[i] = regexp.QuoteMeta(p)
	}
	prompt := "(?:" + strings.Join(quoted, "|") + ")"
	return &Telnet{
		Conn:    conn,
		reEnd:   regexp.MustCompile(prompt + `$`),
		reMulti: regexp.MustCompile(`^(?:[\r\n]*` + prompt + `)+`),
	}
}

func (t *Telnet) handshake(initial string) error {
	if initial != "" {
		if _, err := t.Conn.Write(initial); err != nil {
			return telepath.Errorf(telepath.ErrConnection, t.addr, err, "sending initial command")
		}
	}
	for {
		chunk, err := t.Conn.recv()
		if err != nil {
			return telepath.Errorf(telepath.ErrConnection, t.addr, err, "device did not return a ready prompt")
		}
		if t.reEnd.Match(chunk) {
			return nil
		}
	}
}

// Read accumulates input until a prompt terminates it. Echoed prompts at
// the start are dropped, and the final prompt and trailing whitespace are
// removed. If the device never prints its prompt, Read fails only when the
// socket timeout fires.
func (t *Telnet) Read() ([]byte, error) {
	var data []byte
	for {
		chunk, err := t.Conn.Read()
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
		if loc := t.reMulti.FindIndex(data); loc != nil {
			data = data[loc[1]:]
		}
		if loc := t.reEnd.FindIndex(data); loc != nil {
			return trimRight(data[:loc[0]]), nil
		}
	}
}

// Flush discards pending input. A zero timeout waits 250ms.
func (t *Telnet) Flush(timeout time.Duration) (int, error) {
	if timeout == 0 {
		timeout = telnetFlushWindow
	}
	return t.Conn.Flush(timeout)
}
