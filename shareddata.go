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

package vboot2

// sharedDataSize is the size of the permanent prefix reserved at the
// base of the workbuf for SharedData's bookkeeping. The C implementation
// lays vb2_shared_data out as bytes at workbuf offset 0; we keep the
// equivalent Go struct alongside Context instead (spec.md §9: "explicit
// view types" rather than a pointer graph), but still reserve this
// prefix so that every other allocation's offset arithmetic matches the
// original layout, and so a workbuf sized against the C recommended
// sizes has the same headroom here.
const sharedDataSize = 32

// SharedDataStatus bits (VB2_SD_STATUS_*).
type SharedDataStatus uint32

const (
	SDStatusNVInit SharedDataStatus = 1 << iota
	SDStatusSecdataFirmwareInit
	SDStatusChoseSlot
	SDStatusECSyncComplete
	SDStatusSecdataKernelInit
	SDStatusSecdataFWMPInit
	SDStatusAuxFWSyncComplete
)

// SharedDataFlags bits (VB2_SD_FLAG_*).
type SharedDataFlags uint32

const (
	SDFlagManualRecovery SharedDataFlags = 1 << iota
	SDFlagDevModeEnabled
	SDFlagDisplayAvailable
	SDFlagKernelSigned
)

// SharedData is derived boot state, valid only once the corresponding
// phase has completed. Every *_offset field is a byte offset into the
// owning Context's workbuf; per the workbuf containment invariant
// (spec.md §8.2) it is only meaningful while < that Context's
// workbufUsed.
type SharedData struct {
	Status SharedDataStatus
	Flags  SharedDataFlags

	GBBOffset uint32

	FWSlot        int
	FWVersion     uint32 // composite: key_version<<16 | body_version, as verified this boot
	FWVersionSecdata uint32 // secdata_firmware's recorded composite version, cached at init

	LastFWSlot   int
	LastFWResult uint8

	RecoveryReason RecoveryReason

	DataKeyOffset uint32
	DataKeySize   uint32

	VblockPreambleOffset uint32
	PreambleOffset       uint32
	PreambleSize         uint32

	KernelKeyOffset uint32
	KernelKeySize   uint32

	KernelVersion         uint32
	KernelVersionSecdata  uint32

	KernelVblockPreambleOffset uint32
	KernelPreambleOffset       uint32
	KernelPreambleSize         uint32
}

func (sd *SharedData) hasStatus(bit SharedDataStatus) bool { return sd.Status&bit != 0 }
func (sd *SharedData) hasFlag(bit SharedDataFlags) bool    { return sd.Flags&bit != 0 }
