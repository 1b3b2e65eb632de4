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

// Package efinvdata backs nvdata with a UEFI runtime variable, for hosts
// that boot through UEFI firmware rather than a bare Chrome OS-style
// flash layout. The variable is non-volatile and boot-service + runtime
// accessible, the same class of variable the rest of the pack reads and
// writes for secure boot state (efi.GlobalVariable and friends).
package efinvdata

import (
	"context"

	"github.com/canonical/go-efilib"

	"golang.org/x/xerrors"
)

// varName and varGUID identify the nvdata variable. The GUID is private to
// this implementation rather than efi.GlobalVariable: nvdata is not a
// standard UEFI variable and must not collide with one a shim or another
// bootloader component might read.
const varName = "Vb2NvData"

var varGUID = efi.MakeGUID(0x7ffb9c8f, 0x1d1a, 0x4c8d, 0x9c1e, [...]uint8{0x2b, 0x8b, 0x5a, 0x1e, 0x4f, 0x02})

const varAttrs = efi.AttributeNonVolatile | efi.AttributeBootserviceAccess | efi.AttributeRuntimeAccess

// Backend implements vboot2core.NvdataBackend against a UEFI variable.
type Backend struct{}

// NewBackend returns a Backend. There is no per-instance state: the
// variable name and GUID are fixed, and go-efilib's package-level
// ReadVariable/WriteVariable already serialize access to efivarfs.
func NewBackend() *Backend {
	return &Backend{}
}

// Read returns nvdata's current contents, or (nil, nil) if the variable
// has never been created.
func (b *Backend) Read() ([]byte, error) {
	data, _, err := efi.ReadVariable(context.Background(), varName, varGUID)
	switch {
	case err == efi.ErrVarNotExist:
		return nil, nil
	case err != nil:
		return nil, xerrors.Errorf("cannot read %s variable: %w", varName, err)
	}
	return data, nil
}

// Write stores data, creating the variable on first use.
func (b *Backend) Write(data []byte) error {
	if err := efi.WriteVariable(context.Background(), varName, varGUID, varAttrs, data); err != nil {
		return xerrors.Errorf("cannot write %s variable: %w", varName, err)
	}
	return nil
}
