// Copyright (c) 2024 The telepath developers. All rights reserved.
// Project site: https://github.com/gotmc/telepath
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Command telepath sends SCPI commands to an instrument over TCP, telnet,
// a Prologix GPIB bridge or VISA.
//
//	telepath -host 175 -gpib 17 idn HEWLETT-PACKARD
//	telepath -host 10.0.0.5 -port 5025 ask 'MEAS:VOLT:DC?'
//	telepath -config lab.toml -profile osa block -format '>f4' 'TRAC:DATA:Y? TRA'
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gotmc/telepath"
	"github.com/gotmc/telepath/lib/cmdlog"
	"github.com/gotmc/telepath/lib/connutil"
	"github.com/rs/zerolog"
)

const usage = `commands:
  idn [expect]              identify, optionally checking the ID prefix
  ask <query>...            send each query and print the text reply
  query <cmd>...            send each query ('?' appended) and print the typed reply
  write <cmd>...            send commands without reading
  raw <query> <size>        send a query and read exactly size bytes
  block [-format f] [-o file] <query>
                            read a binary block reply
  flush                     discard pending input
`

func main() {
	var (
		conn    connutil.Conn
		verbose bool
	)
	conn.AddFlags(nil)
	flag.BoolVar(&verbose, "v", false, "trace instrument traffic")
	defaultUsage := flag.Usage
	flag.Usage = func() {
		defaultUsage()
		fmt.Fprint(flag.CommandLine.Output(), "\n"+usage)
	}
	flag.Parse()
	conn.Parsed(nil)

	log := cmdlog.InitLogger("telepath", verbose)
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	dev, cleanup, err := conn.Open(log)
	if err != nil {
		log.Fatal().Err(err).Str("conn", conn.String()).Msg("cannot connect")
	}
	err = run(dev, log, flag.Arg(0), flag.Args()[1:], os.Stdout)
	if cerr := cleanup(); cerr != nil {
		log.Warn().Err(cerr).Msg("closing")
	}
	if err != nil {
		log.Fatal().Err(err).Msg(flag.Arg(0))
	}
}

func run(dev *telepath.Device, log zerolog.Logger, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "idn":
		expect := strings.Join(args, " ")
		id, err := dev.Identify(expect, telepath.CaseInsensitive())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, id)
	case "ask":
		for _, q := range args {
			reply, err := dev.Ask(q)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, reply)
		}
	case "query":
		vals, err := dev.QueryAll(args)
		for _, q := range args {
			if v, ok := vals[q]; ok {
				fmt.Fprintf(out, "%s = %v\n", q, v)
			}
		}
		return err
	case "write":
		for _, c := range args {
			if err := dev.Command(c); err != nil {
				return err
			}
		}
	case "raw":
		if len(args) != 2 {
			return fmt.Errorf("usage: raw <query> <size>")
		}
		size, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}
		b, err := dev.AskRaw(args[0], size)
		if err != nil {
			return err
		}
		fmt.Fprint(out, hex.Dump(b))
	case "block":
		return block(dev, log, args, out)
	case "flush":
		n, err := dev.Flush()
		if err != nil {
			return err
		}
		if n < 0 {
			log.Warn().Msg("transport cannot flush")
		}
		fmt.Fprintln(out, n)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func block(dev *telepath.Device, log zerolog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("block", flag.ContinueOnError)
	format := fs.String("format", "", "decode the payload, e.g. '>f4' or '<i2'")
	output := fs.String("o", "", "write the payload to file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: block [-format f] [-o file] <query>")
	}
	q := fs.Arg(0)

	if *format == "" {
		payload, err := dev.AskBlock(q)
		if err != nil {
			return err
		}
		log.Info().Msgf("%s: %s", cmdlog.CmdStyle.Render(q), cmdlog.Describe(payload))
		if *output != "" {
			return os.WriteFile(*output, payload, 0o644)
		}
		return nil
	}

	f, err := telepath.ParseFormat(*format)
	if err != nil {
		return err
	}
	v, err := dev.AskBlockAs(q, f)
	if err != nil {
		return err
	}
	vals, err := telepath.Float64s(v)
	if err != nil {
		return err
	}
	w := out
	if *output != "" {
		file, err := os.Create(*output)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	for _, x := range vals {
		fmt.Fprintln(w, strconv.FormatFloat(x, 'g', -1, 64))
	}
	log.Info().Int("values", len(vals)).Str("format", f.String()).Msg(q)
	return nil
}
