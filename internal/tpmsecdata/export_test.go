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
	"github.com/canonical/go-tpm2/linux"
)

func MockLinuxDefaultTPM2Device(fn func() (*linux.RawDevice, error)) (restore func()) {
	orig := linuxDefaultTPM2Device
	linuxDefaultTPM2Device = fn
	return func() {
		linuxDefaultTPM2Device = orig
	}
}

func MockLinuxRawDeviceResourceManagedDevice(fn func(*linux.RawDevice) (*linux.RMDevice, error)) (restore func()) {
	orig := linuxRawDeviceResourceManagedDevice
	linuxRawDeviceResourceManagedDevice = fn
	return func() {
		linuxRawDeviceResourceManagedDevice = orig
	}
}

func NewTPMDevice(dev tpm2.TPMDevice, mode DeviceMode) TPMDevice {
	return &tpmDevice{TPMDevice: dev, mode: mode}
}

func NewBackendForTest(tpm *tpm2.TPMContext, handle tpm2.Handle, size uint16) *Backend {
	return &Backend{tpm: tpm, handle: handle, size: size}
}
