// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2019 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package diag renders a measured-boot TCG event log into a short
// human-readable narrative, purely to enrich debug output around EC
// software sync with what a board already measured before vboot2core got
// control. Nothing in this package's output feeds back into any
// verification decision; a log that fails to parse is a diagnostics
// dead end, never a recovery cause.
package diag

import (
	"fmt"
	"io"
	"os"
	"strings"

	tcglog "github.com/canonical/tcglog-parser"
	"golang.org/x/xerrors"
)

// Summarize reads a TCG event log from r and renders one line per event
// naming the PCR it extended and the event type recorded against it.
func Summarize(r io.Reader) (string, error) {
	log, err := tcglog.ReadLog(r, &tcglog.LogOptions{})
	if err != nil {
		return "", xerrors.Errorf("cannot parse event log: %w", err)
	}

	var b strings.Builder
	for _, ev := range log.Events {
		fmt.Fprintf(&b, "pcr%d: %s\n", ev.PCRIndex, ev.EventType)
	}
	return b.String(), nil
}

// SummarizeFile opens path and calls Summarize against it.
func SummarizeFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", xerrors.Errorf("cannot open event log %s: %w", path, err)
	}
	defer f.Close()
	return Summarize(f)
}
