//go:build linux

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

package tpmsecdata_test

import (
	"errors"

	"github.com/canonical/go-tpm2/linux"

	. "github.com/snapcore/vboot2core/internal/tpmsecdata"
	. "gopkg.in/check.v1"
)

type deviceLinuxSuite struct{}

var _ = Suite(&deviceLinuxSuite{})

func (s *deviceLinuxSuite) TestDefaultDeviceDefaultNotTPM2Device(c *C) {
	restore := MockLinuxDefaultTPM2Device(func() (*linux.RawDevice, error) {
		return nil, linux.ErrDefaultNotTPM2Device
	})
	defer restore()

	_, err := DefaultDevice(DeviceModeDirect)
	c.Check(err, Equals, ErrNoTPM2Device)
}

func (s *deviceLinuxSuite) TestDefaultDeviceDefaultNoTPMDevices(c *C) {
	restore := MockLinuxDefaultTPM2Device(func() (*linux.RawDevice, error) {
		return nil, linux.ErrNoTPMDevices
	})
	defer restore()

	_, err := DefaultDevice(DeviceModeDirect)
	c.Check(err, Equals, ErrNoTPM2Device)
}

func (s *deviceLinuxSuite) TestDefaultDeviceDefaultOtherError(c *C) {
	restore := MockLinuxDefaultTPM2Device(func() (*linux.RawDevice, error) {
		return nil, errors.New("some error")
	})
	defer restore()

	_, err := DefaultDevice(DeviceModeDirect)
	c.Check(err, ErrorMatches, `some error`)
}

func (s *deviceLinuxSuite) TestDefaultDeviceDirect(c *C) {
	expectedRaw := new(linux.RawDevice)

	restore := MockLinuxDefaultTPM2Device(func() (*linux.RawDevice, error) {
		return expectedRaw, nil
	})
	defer restore()

	dev, err := DefaultDevice(DeviceModeDirect)
	c.Check(err, IsNil)
	c.Check(dev, DeepEquals, NewTPMDevice(expectedRaw, DeviceModeDirect))
}

func (s *deviceLinuxSuite) TestDefaultDeviceTryResourceManaged(c *C) {
	expectedRaw := new(linux.RawDevice)
	expectedRM := new(linux.RMDevice)

	restore := MockLinuxDefaultTPM2Device(func() (*linux.RawDevice, error) {
		return expectedRaw, nil
	})
	defer restore()

	restore = MockLinuxRawDeviceResourceManagedDevice(func(raw *linux.RawDevice) (*linux.RMDevice, error) {
		c.Check(raw, Equals, expectedRaw)
		return expectedRM, nil
	})
	defer restore()

	dev, err := DefaultDevice(DeviceModeTryResourceManaged)
	c.Check(err, IsNil)
	c.Check(dev, DeepEquals, NewTPMDevice(expectedRM, DeviceModeResourceManaged))
}

func (s *deviceLinuxSuite) TestDefaultDeviceTryResourceManagedNoRM(c *C) {
	expectedRaw := new(linux.RawDevice)

	restore := MockLinuxDefaultTPM2Device(func() (*linux.RawDevice, error) {
		return expectedRaw, nil
	})
	defer restore()

	restore = MockLinuxRawDeviceResourceManagedDevice(func(raw *linux.RawDevice) (*linux.RMDevice, error) {
		c.Check(raw, Equals, expectedRaw)
		return nil, linux.ErrNoResourceManagedDevice
	})
	defer restore()

	dev, err := DefaultDevice(DeviceModeTryResourceManaged)
	c.Check(err, IsNil)
	c.Check(dev, DeepEquals, NewTPMDevice(expectedRaw, DeviceModeDirect))
}

func (s *deviceLinuxSuite) TestDefaultDeviceTryResourceManagedErr(c *C) {
	expectedRaw := new(linux.RawDevice)

	restore := MockLinuxDefaultTPM2Device(func() (*linux.RawDevice, error) {
		return expectedRaw, nil
	})
	defer restore()

	restore = MockLinuxRawDeviceResourceManagedDevice(func(raw *linux.RawDevice) (*linux.RMDevice, error) {
		c.Check(raw, Equals, expectedRaw)
		return nil, errors.New("some error")
	})
	defer restore()

	_, err := DefaultDevice(DeviceModeTryResourceManaged)
	c.Check(err, ErrorMatches, `some error`)
}

func (s *deviceLinuxSuite) TestDefaultDeviceResourceManaged(c *C) {
	expectedRaw := new(linux.RawDevice)
	expectedRM := new(linux.RMDevice)

	restore := MockLinuxDefaultTPM2Device(func() (*linux.RawDevice, error) {
		return expectedRaw, nil
	})
	defer restore()

	restore = MockLinuxRawDeviceResourceManagedDevice(func(raw *linux.RawDevice) (*linux.RMDevice, error) {
		c.Check(raw, Equals, expectedRaw)
		return expectedRM, nil
	})
	defer restore()

	dev, err := DefaultDevice(DeviceModeResourceManaged)
	c.Check(err, IsNil)
	c.Check(dev, DeepEquals, NewTPMDevice(expectedRM, DeviceModeResourceManaged))
}

func (s *deviceLinuxSuite) TestDefaultDeviceResourceManagedNoRM(c *C) {
	expectedRaw := new(linux.RawDevice)

	restore := MockLinuxDefaultTPM2Device(func() (*linux.RawDevice, error) {
		return expectedRaw, nil
	})
	defer restore()

	restore = MockLinuxRawDeviceResourceManagedDevice(func(raw *linux.RawDevice) (*linux.RMDevice, error) {
		c.Check(raw, Equals, expectedRaw)
		return nil, linux.ErrNoResourceManagedDevice
	})
	defer restore()

	_, err := DefaultDevice(DeviceModeResourceManaged)
	c.Check(err, Equals, ErrNoResourceManagedTPM2Device)
}
