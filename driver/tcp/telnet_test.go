// Copyright (c) 2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package tcp

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gotmc/telepath"
)

func TestTelnetStripsPrompts(t *testing.T) {
	host, port := serve(t, func(c net.Conn) {
		c.Write([]byte("> "))
		line, err := bufio.NewReader(c).ReadString('\n')
		if err != nil || line != "CURV?\n" {
			return
		}
		c.Write([]byte("> > DATA123> "))
		time.Sleep(100 * time.Millisecond)
	})
	tn, err := DialTelnet(host, port)
	if err != nil {
		t.Fatal(err)
	}
	defer tn.Close()
	if _, err := tn.Write("CURV?"); err != nil {
		t.Fatal(err)
	}
	b, err := tn.Read()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "DATA123" {
		t.Errorf("Read() = %q, want %q", b, "DATA123")
	}
}

func TestTelnetReadWaitsForPrompt(t *testing.T) {
	host, port := serve(t, func(c net.Conn) {
		c.Write([]byte("> "))
		bufio.NewReader(c).ReadString('\n')
		c.Write([]byte("\r\n> "))
		time.Sleep(30 * time.Millisecond)
		c.Write([]byte("1.5,2.5\r\n"))
		time.Sleep(30 * time.Millisecond)
		c.Write([]byte("> "))
		time.Sleep(100 * time.Millisecond)
	})
	tn, err := DialTelnet(host, port)
	if err != nil {
		t.Fatal(err)
	}
	defer tn.Close()
	tn.Write("DAT?")
	b, err := tn.Read()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "1.5,2.5" {
		t.Errorf("Read() = %q", b)
	}
}

func TestTelnetAlternativePrompts(t *testing.T) {
	host, port := serve(t, func(c net.Conn) {
		r := bufio.NewReader(c)
		// Initial command turns echo off, then the prompt follows.
		if line, _ := r.ReadString('\n'); line != "EO 0\r\n" {
			return
		}
		c.Write([]byte(":"))
		r.ReadString('\n')
		c.Write([]byte(" 12.0000\r\n:"))
		time.Sleep(100 * time.Millisecond)
	})
	tn, err := DialTelnet(host, port,
		WithPrompts(":", "?"),
		WithInitial("EO 0"),
		WithConnOption(WithTerminator("\r\n")),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer tn.Close()
	tn.Write("MG_TC")
	b, err := tn.Read()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != " 12.0000" {
		t.Errorf("Read() = %q", b)
	}
}

func TestTelnetNoPrompt(t *testing.T) {
	host, port := serve(t, func(c net.Conn) {
		c.Write([]byte("login: "))
		time.Sleep(500 * time.Millisecond)
	})
	_, err := DialTelnet(host, port, WithConnOption(WithTimeout(100*time.Millisecond)))
	if !errors.Is(err, telepath.ErrConnection) {
		t.Fatalf("DialTelnet error = %v, want ErrConnection", err)
	}
}
