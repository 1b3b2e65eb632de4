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

import "golang.org/x/xerrors"

// nvdataV1Size and nvdataV2Size are the two on-disk nvdata layouts this
// module accepts. v2 adds the kernel and firmware roll-forward ceilings;
// both layouts end in a single CRC-8 byte. Which one a board uses is fixed
// by ContextNVDataV2 and never changes at runtime.
const (
	nvdataV1Size = 16
	nvdataV2Size = 32
)

// NVParam names one boot-intent flag or counter carried in nvdata. The
// numeric values are internal to this package; callers only ever use the
// named constants.
type NVParam int

const (
	NVFirmwareSettingsReset NVParam = iota
	NVKernelSettingsReset
	NVDebugResetMode
	NVClearTPMOwner
	NVTPMRequestedReboot
	NVTryCountFirmware
	NVFirmwareResult // FWResult* from the previous boot
	NVRecoveryRequest
	NVRecoverySubcode
	NVLocalizationIndex
	NVKernelMaxRollforward
	NVFWMaxRollforward
	NVDevBootUSB
	NVDevBootSignedOnly
	NVDevBootLegacy
	NVDevDefaultBoot
	NVDisplayRequest
	NVBackupNVRAMRequest
	NVFastbootUnlockInProgress
	NVKernelField // legacy per-kernel try state (VBNV kernel field)
	NVDiagRequest
	NVTryNextFirmware // slot to try next boot (TRY_NEXT)
	NVFWTried         // slot actually tried this/last boot (FW_TRIED)
	NVFWPrevTried     // slot tried the boot before that (FW_PREV_TRIED)
	NVFWPrevResult    // FWResult* from the boot before last (FW_PREV_RESULT)
	NVTryRoSync       // update EC's RO image during software sync (TRY_RO_SYNC)
	NVBatteryCutoffRequest
)

// NVData is the decoded, CRC-verified contents of the nvdata blob. Its
// fields are unexported; Context routes all reads/writes through the
// named-parameter accessors below to keep phase code from depending on
// the wire layout.
type NVData struct {
	v2 bool

	firmwareSettingsReset bool
	kernelSettingsReset   bool
	debugResetMode        bool
	clearTPMOwner         bool
	tpmRequestedReboot    bool

	tryCountFirmware uint8
	firmwareResult   uint8

	recoveryRequest RecoveryReason
	recoverySubcode uint8

	localizationIndex uint8

	kernelMaxRollforward uint32
	fwMaxRollforward     uint32

	devBootUSB          bool
	devBootSignedOnly   bool
	devBootLegacy       bool
	devDefaultBoot      uint8
	displayRequest      bool
	backupNVRAMRequest  bool
	fastbootUnlockInProg bool
	diagRequest          bool
	batteryCutoffRequest bool

	kernelField uint32

	tryNextFirmware uint8
	fwTried         uint8
	fwPrevTried     uint8
	fwPrevResult    uint8
	tryROSync       bool
}

func nvCRC(data []byte) uint8 {
	var crc uint8
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// decodeNVData parses raw nvdata bytes, checking the header signature
// nibble and the trailing CRC-8.
func decodeNVData(raw []byte, v2 bool) (*NVData, error) {
	want := nvdataV1Size
	if v2 {
		want = nvdataV2Size
	}
	if len(raw) != want {
		return nil, NewError(KindNVSize, "nvdata length does not match expected layout")
	}

	header := raw[0]
	if header&0xF0 != 0x10 {
		return nil, NewError(KindNVVersion, "nvdata header signature nibble mismatch")
	}

	if nvCRC(raw[:len(raw)-1]) != raw[len(raw)-1] {
		return nil, NewError(KindNVCRC, "nvdata CRC mismatch")
	}

	nv := &NVData{v2: v2}
	flags0 := raw[1]
	nv.firmwareSettingsReset = flags0&0x01 != 0
	nv.kernelSettingsReset = flags0&0x02 != 0
	nv.debugResetMode = flags0&0x04 != 0
	nv.clearTPMOwner = flags0&0x08 != 0
	nv.tpmRequestedReboot = flags0&0x10 != 0
	nv.displayRequest = flags0&0x20 != 0
	nv.backupNVRAMRequest = flags0&0x40 != 0
	nv.fastbootUnlockInProg = flags0&0x80 != 0

	nv.tryCountFirmware = raw[2] & 0x0F
	nv.firmwareResult = raw[2] >> 4

	nv.recoveryRequest = RecoveryReason(raw[3])
	nv.recoverySubcode = raw[4]

	nv.localizationIndex = raw[5]

	devFlags := raw[6]
	nv.devBootUSB = devFlags&0x01 != 0
	nv.devBootSignedOnly = devFlags&0x02 != 0
	nv.devBootLegacy = devFlags&0x04 != 0
	nv.devDefaultBoot = (devFlags >> 3) & 0x03
	nv.diagRequest = devFlags&0x20 != 0
	nv.batteryCutoffRequest = devFlags&0x40 != 0

	nv.kernelField = uint32(raw[7]) | uint32(raw[8])<<8

	if v2 {
		nv.kernelMaxRollforward = uint32(raw[9]) | uint32(raw[10])<<8 | uint32(raw[11])<<16 | uint32(raw[12])<<24
		nv.fwMaxRollforward = uint32(raw[13]) | uint32(raw[14])<<8 | uint32(raw[15])<<16 | uint32(raw[16])<<24
	} else {
		nv.kernelMaxRollforward = 0xFFFFFFFF
		nv.fwMaxRollforward = 0xFFFFFFFF
	}

	slotState := raw[fwSlotStateOffset(v2)]
	nv.tryNextFirmware = slotState & 0x01
	nv.fwTried = (slotState >> 1) & 0x01
	nv.fwPrevTried = (slotState >> 2) & 0x01
	nv.fwPrevResult = (slotState >> 3) & 0x03
	nv.tryROSync = slotState&0x20 != 0

	return nv, nil
}

// fwSlotStateOffset is the byte holding the A/B slot-selection state
// (try_next, fw_tried, fw_prev_tried, fw_prev_result, try_ro_sync). It
// sits in the padding a v1 blob leaves after the legacy kernel field and,
// for v2, after the roll-forward ceilings — in both layouts strictly
// before the trailing CRC byte.
func fwSlotStateOffset(v2 bool) int {
	if v2 {
		return 17
	}
	return 9
}

func encodeNVData(nv *NVData) []byte {
	size := nvdataV1Size
	if nv.v2 {
		size = nvdataV2Size
	}
	raw := make([]byte, size)
	raw[0] = 0x10

	var flags0 byte
	if nv.firmwareSettingsReset {
		flags0 |= 0x01
	}
	if nv.kernelSettingsReset {
		flags0 |= 0x02
	}
	if nv.debugResetMode {
		flags0 |= 0x04
	}
	if nv.clearTPMOwner {
		flags0 |= 0x08
	}
	if nv.tpmRequestedReboot {
		flags0 |= 0x10
	}
	if nv.displayRequest {
		flags0 |= 0x20
	}
	if nv.backupNVRAMRequest {
		flags0 |= 0x40
	}
	if nv.fastbootUnlockInProg {
		flags0 |= 0x80
	}
	raw[1] = flags0

	raw[2] = (nv.tryCountFirmware & 0x0F) | (nv.firmwareResult << 4)
	raw[3] = byte(nv.recoveryRequest)
	raw[4] = nv.recoverySubcode
	raw[5] = nv.localizationIndex

	var devFlags byte
	if nv.devBootUSB {
		devFlags |= 0x01
	}
	if nv.devBootSignedOnly {
		devFlags |= 0x02
	}
	if nv.devBootLegacy {
		devFlags |= 0x04
	}
	devFlags |= (nv.devDefaultBoot & 0x03) << 3
	if nv.diagRequest {
		devFlags |= 0x20
	}
	if nv.batteryCutoffRequest {
		devFlags |= 0x40
	}
	raw[6] = devFlags

	raw[7] = byte(nv.kernelField)
	raw[8] = byte(nv.kernelField >> 8)

	if nv.v2 {
		raw[9] = byte(nv.kernelMaxRollforward)
		raw[10] = byte(nv.kernelMaxRollforward >> 8)
		raw[11] = byte(nv.kernelMaxRollforward >> 16)
		raw[12] = byte(nv.kernelMaxRollforward >> 24)
		raw[13] = byte(nv.fwMaxRollforward)
		raw[14] = byte(nv.fwMaxRollforward >> 8)
		raw[15] = byte(nv.fwMaxRollforward >> 16)
		raw[16] = byte(nv.fwMaxRollforward >> 24)
	}

	var slotState byte
	slotState |= nv.tryNextFirmware & 0x01
	slotState |= (nv.fwTried & 0x01) << 1
	slotState |= (nv.fwPrevTried & 0x01) << 2
	slotState |= (nv.fwPrevResult & 0x03) << 3
	if nv.tryROSync {
		slotState |= 0x20
	}
	raw[fwSlotStateOffset(nv.v2)] = slotState

	raw[len(raw)-1] = nvCRC(raw[:len(raw)-1])
	return raw
}

func defaultNVData(v2 bool) *NVData {
	return &NVData{v2: v2, kernelMaxRollforward: 0xFFFFFFFF, fwMaxRollforward: 0xFFFFFFFF}
}

// nvInit loads nvdata from ctx.NV, falling back to (and marking dirty) a
// freshly-defaulted blob if the backend has nothing or what it has fails
// its CRC — mirroring vb2_nv_init's "corrupt nvdata means start over, do
// not brick" behavior.
func nvInit(ctx *Context) error {
	if ctx.nvInit {
		return nil
	}
	v2 := ctx.Flags.has(ContextNVDataV2)

	raw, err := ctx.NV.Read()
	if err != nil {
		return WrapError(KindNVCRC, xerrors.Errorf("nvdata backend read: %w", err))
	}

	nv, decodeErr := decodeNVData(raw, v2)
	if decodeErr != nil {
		nv = defaultNVData(v2)
		ctx.nvDirty = true
		ctx.debugf("nvdata: %v, resetting to defaults\n", decodeErr)
	}

	ctx.nvData = *nv
	ctx.nvInit = true
	ctx.sd.Status |= SDStatusNVInit
	return nil
}

// nvCommit writes nvdata back out if it was modified since nvInit or the
// last commit.
func nvCommit(ctx *Context) error {
	if !ctx.nvDirty {
		return nil
	}
	raw := encodeNVData(&ctx.nvData)
	if err := ctx.NV.Write(raw); err != nil {
		return WrapError(KindNVWrite, xerrors.Errorf("nvdata backend write: %w", err))
	}
	ctx.nvDirty = false
	return nil
}

// NVGet reads a single named nvdata parameter, initializing nvdata from
// the backend on first use.
func (ctx *Context) NVGet(param NVParam) (uint32, error) {
	if err := nvInit(ctx); err != nil {
		return 0, err
	}
	nv := &ctx.nvData
	switch param {
	case NVFirmwareSettingsReset:
		return boolToU32(nv.firmwareSettingsReset), nil
	case NVKernelSettingsReset:
		return boolToU32(nv.kernelSettingsReset), nil
	case NVDebugResetMode:
		return boolToU32(nv.debugResetMode), nil
	case NVClearTPMOwner:
		return boolToU32(nv.clearTPMOwner), nil
	case NVTPMRequestedReboot:
		return boolToU32(nv.tpmRequestedReboot), nil
	case NVTryCountFirmware:
		return uint32(nv.tryCountFirmware), nil
	case NVFirmwareResult:
		return uint32(nv.firmwareResult), nil
	case NVRecoveryRequest:
		return uint32(nv.recoveryRequest), nil
	case NVRecoverySubcode:
		return uint32(nv.recoverySubcode), nil
	case NVLocalizationIndex:
		return uint32(nv.localizationIndex), nil
	case NVKernelMaxRollforward:
		return nv.kernelMaxRollforward, nil
	case NVFWMaxRollforward:
		return nv.fwMaxRollforward, nil
	case NVDevBootUSB:
		return boolToU32(nv.devBootUSB), nil
	case NVDevBootSignedOnly:
		return boolToU32(nv.devBootSignedOnly), nil
	case NVDevBootLegacy:
		return boolToU32(nv.devBootLegacy), nil
	case NVDevDefaultBoot:
		return uint32(nv.devDefaultBoot), nil
	case NVDisplayRequest:
		return boolToU32(nv.displayRequest), nil
	case NVBackupNVRAMRequest:
		return boolToU32(nv.backupNVRAMRequest), nil
	case NVFastbootUnlockInProgress:
		return boolToU32(nv.fastbootUnlockInProg), nil
	case NVKernelField:
		return nv.kernelField, nil
	case NVDiagRequest:
		return boolToU32(nv.diagRequest), nil
	case NVTryNextFirmware:
		return uint32(nv.tryNextFirmware), nil
	case NVFWTried:
		return uint32(nv.fwTried), nil
	case NVFWPrevTried:
		return uint32(nv.fwPrevTried), nil
	case NVFWPrevResult:
		return uint32(nv.fwPrevResult), nil
	case NVTryRoSync:
		return boolToU32(nv.tryROSync), nil
	case NVBatteryCutoffRequest:
		return boolToU32(nv.batteryCutoffRequest), nil
	default:
		return 0, NewError(KindNVSize, "unknown nvdata parameter")
	}
}

// NVSet writes a single named nvdata parameter. The change is buffered in
// memory until Commit is called (spec.md §4: nvdata writes are batched
// per boot, not per-call).
func (ctx *Context) NVSet(param NVParam, value uint32) error {
	if err := nvInit(ctx); err != nil {
		return err
	}
	nv := &ctx.nvData
	switch param {
	case NVFirmwareSettingsReset:
		nv.firmwareSettingsReset = value != 0
	case NVKernelSettingsReset:
		nv.kernelSettingsReset = value != 0
	case NVDebugResetMode:
		nv.debugResetMode = value != 0
	case NVClearTPMOwner:
		nv.clearTPMOwner = value != 0
	case NVTPMRequestedReboot:
		nv.tpmRequestedReboot = value != 0
	case NVTryCountFirmware:
		nv.tryCountFirmware = uint8(value)
	case NVFirmwareResult:
		nv.firmwareResult = uint8(value)
	case NVRecoveryRequest:
		nv.recoveryRequest = RecoveryReason(value)
	case NVRecoverySubcode:
		nv.recoverySubcode = uint8(value)
	case NVLocalizationIndex:
		nv.localizationIndex = uint8(value)
	case NVKernelMaxRollforward:
		nv.kernelMaxRollforward = value
	case NVFWMaxRollforward:
		nv.fwMaxRollforward = value
	case NVDevBootUSB:
		nv.devBootUSB = value != 0
	case NVDevBootSignedOnly:
		nv.devBootSignedOnly = value != 0
	case NVDevBootLegacy:
		nv.devBootLegacy = value != 0
	case NVDevDefaultBoot:
		nv.devDefaultBoot = uint8(value)
	case NVDisplayRequest:
		nv.displayRequest = value != 0
	case NVBackupNVRAMRequest:
		nv.backupNVRAMRequest = value != 0
	case NVFastbootUnlockInProgress:
		nv.fastbootUnlockInProg = value != 0
	case NVKernelField:
		nv.kernelField = value
	case NVDiagRequest:
		nv.diagRequest = value != 0
	case NVTryNextFirmware:
		nv.tryNextFirmware = uint8(value) & 0x01
	case NVFWTried:
		nv.fwTried = uint8(value) & 0x01
	case NVFWPrevTried:
		nv.fwPrevTried = uint8(value) & 0x01
	case NVFWPrevResult:
		nv.fwPrevResult = uint8(value) & 0x03
	case NVTryRoSync:
		nv.tryROSync = value != 0
	case NVBatteryCutoffRequest:
		nv.batteryCutoffRequest = value != 0
	default:
		return NewError(KindNVSize, "unknown nvdata parameter")
	}
	ctx.nvDirty = true
	return nil
}

// NVCommit flushes any pending nvdata writes to ctx.NV.
func (ctx *Context) NVCommit() error { return nvCommit(ctx) }

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
