// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 Canonical Ltd
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

package tpmsecdata

import (
	"github.com/canonical/go-tpm2"

	"golang.org/x/xerrors"
)

// Well known NV index handles for the three rollback stores. Chosen from
// the owner-defined range (0x01xxxxxx) the same way keyslock.go's lock
// indices live at fixed handles common to every device, so the composite
// version the firmware reports means the same thing across a fleet.
const (
	HandleSecdataFirmware tpm2.Handle = 0x01800100
	HandleSecdataKernel   tpm2.Handle = 0x01800101
	HandleSecdataFWMP     tpm2.Handle = 0x01800102
)

// Backend implements vboot2core.SecdataBackend against a single NV index on
// a real TPM2 device. It is deliberately dumb: no policy session, no
// PCR binding, just an authorization-value-protected ordinary index,
// because secdata's own CRC and versioning already give it the integrity
// and rollback protection it needs (spec.md §5) — the TPM's job here is
// only to survive a disk wipe that an on-disk NvdataBackend would not.
type Backend struct {
	tpm    *tpm2.TPMContext
	handle tpm2.Handle
	size   uint16
}

// NewBackend opens dev and returns a Backend for handle, sized to hold up
// to size bytes. dev is not closed by Backend; the caller owns its
// lifetime for the whole boot.
func NewBackend(dev TPMDevice, handle tpm2.Handle, size uint16) (*Backend, error) {
	tcti, err := dev.Open()
	if err != nil {
		return nil, xerrors.Errorf("cannot open TPM device: %w", err)
	}
	tpm := tpm2.NewTPMContext(tcti)
	return &Backend{tpm: tpm, handle: handle, size: size}, nil
}

// Close releases the underlying TPM connection.
func (b *Backend) Close() error {
	return b.tpm.Close()
}

func (b *Backend) index() (tpm2.ResourceContext, error) {
	index, err := b.tpm.CreateResourceContextFromTPM(b.handle)
	if err != nil {
		return nil, err
	}
	return index, nil
}

// Read returns the store's current contents, or (nil, nil) if the index
// has never been defined on this TPM.
func (b *Backend) Read() ([]byte, error) {
	index, err := b.index()
	switch {
	case tpm2.IsResourceUnavailableError(err, b.handle):
		return nil, nil
	case err != nil:
		return nil, xerrors.Errorf("cannot create context for NV index: %w", err)
	}

	pub, _, err := b.tpm.NVReadPublic(index)
	if err != nil {
		return nil, xerrors.Errorf("cannot read public area of NV index: %w", err)
	}

	data, err := b.tpm.NVRead(index, index, pub.Size, 0, nil)
	if err != nil {
		return nil, xerrors.Errorf("cannot read NV index: %w", err)
	}
	return data, nil
}

// Write stores data, defining the index first if this is the first write
// on this TPM (mirroring the define-then-write sequence keyslock.go uses
// for its own indices).
func (b *Backend) Write(data []byte) error {
	if len(data) > int(b.size) {
		return xerrors.Errorf("data of %d bytes exceeds index size %d", len(data), b.size)
	}

	index, err := b.index()
	if tpm2.IsResourceUnavailableError(err, b.handle) {
		pub := &tpm2.NVPublic{
			Index:   b.handle,
			NameAlg: tpm2.HashAlgorithmSHA256,
			Attrs:   tpm2.NVTypeOrdinary.WithAttrs(tpm2.AttrNVAuthWrite | tpm2.AttrNVAuthRead | tpm2.AttrNVNoDA),
			Size:    b.size,
		}
		index, err = b.tpm.NVDefineSpace(b.tpm.OwnerHandleContext(), nil, pub, nil)
		if err != nil {
			return xerrors.Errorf("cannot define NV index: %w", err)
		}
	} else if err != nil {
		return xerrors.Errorf("cannot create context for NV index: %w", err)
	}

	if err := b.tpm.NVWrite(index, index, data, 0, nil); err != nil {
		return xerrors.Errorf("cannot write NV index: %w", err)
	}
	return nil
}
