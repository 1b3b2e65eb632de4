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

// Package tpmsecdata backs secdata-firmware, secdata-kernel and secdata-fwmp
// with real TPM2 NV indices, for hosts that want the rollback stores to
// survive a full disk wipe. It implements vboot2core.SecdataBackend against
// a live TPM2 device the same way keyslock.go locks sealed keys: raw NV
// index operations over a *tpm2.TPMContext, no policy sessions required
// since these stores are protected by ordinary authorization values rather
// than PCR policy.
package tpmsecdata

import (
	"errors"

	"github.com/canonical/go-tpm2"
)

// DeviceMode describes the mode to select the default device.
type DeviceMode int

const (
	// DeviceModeDirect requests the most direct TPM2 device, without the
	// use of a resource manager. These devices cannot be opened more
	// than once and don't permit the TPM to be shared.
	DeviceModeDirect DeviceMode = iota

	// DeviceModeResourceManaged requests a resource managed TPM2
	// device. These devices can be opened more than once and shared,
	// relying on the resource manager to handle context switching
	// between users.
	DeviceModeResourceManaged

	// DeviceModeTryResourceManaged is like DeviceModeResourceManaged
	// except it will return a direct device if a resource managed
	// device is not available. Some older linux kernels do not support
	// an in-kernel resource manager.
	DeviceModeTryResourceManaged
)

var (
	// ErrNoTPM2Device indicates that no TPM2 device is available.
	ErrNoTPM2Device = errors.New("no TPM2 device is available")

	// ErrNoResourceManagedTPM2Device indicates that there is no
	// resource managed TPM2 device option available.
	ErrNoResourceManagedTPM2Device = errors.New("no resource managed TPM2 device available")
)

// TPMDevice corresponds to a tpm2.TPMDevice with its selected mode attached.
// The physical presence interface that the upstream device abstraction also
// exposes has no counterpart here: secdata NV indices are read and written
// under ordinary authorization, never gated by a physical-presence assertion.
type TPMDevice interface {
	tpm2.TPMDevice
	Mode() DeviceMode
}

type tpmDevice struct {
	tpm2.TPMDevice
	mode DeviceMode
}

func (d *tpmDevice) Mode() DeviceMode { return d.mode }

// DefaultDevice returns the default TPM device. The specified mode controls
// what kind of device to return, if available. On platforms with no device
// backend (anything but linux) this always returns ErrNoTPM2Device.
var DefaultDevice = func(DeviceMode) (TPMDevice, error) {
	return nil, ErrNoTPM2Device
}
