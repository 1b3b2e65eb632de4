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

import (
	"crypto/sha256"
	"encoding/binary"

	. "gopkg.in/check.v1"
)

// gbbFixtureBytes builds a minimal, valid GBB header buffer (magic plus
// GBBHeaderSize bytes of zeroed offsets/sizes) carrying flags, for tests
// that need FirmwarePhase3/ECSync to get past fwInitGBB/getGBB without a
// real factory-programmed GBB region.
func gbbFixtureBytes(flags uint32) []byte {
	raw := make([]byte, GBBHeaderSize+4)
	for i := range gbbSignatureXOR {
		raw[i] = gbbSignatureXOR[i] ^ gbbSignatureChars[i]
	}
	le := binary.LittleEndian
	le.PutUint16(raw[4:], GBBMajorVersion)
	le.PutUint16(raw[6:], GBBMinorVersion)
	le.PutUint32(raw[8:], GBBHeaderSize)
	le.PutUint32(raw[44:], 0) // root key offset/size, recovery key offset/size all zero
	le.PutUint32(raw[52:], flags)
	return raw
}

// withGBB wires ctx.ReadResource to answer ResGBB with a fixture carrying
// flags and pins it via fwInitGBB, the way FirmwarePhase1 would.
func withGBB(c *C, ctx *Context, flags uint32) {
	raw := gbbFixtureBytes(flags)
	ctx.ReadResource = func(index ResourceIndex, offset, size uint32, buf []byte) error {
		if index != ResGBB {
			return NewError(KindReadResourceIndex, "unexpected resource in withGBB")
		}
		copy(buf, raw[offset:offset+size])
		return nil
	}
	c.Assert(fwInitGBB(ctx), IsNil)
}

type selectFWSlotSuite struct{}

var _ = Suite(&selectFWSlotSuite{})

func (s *selectFWSlotSuite) TestRecoveryModeAlwaysSlotZeroNoAccounting(c *C) {
	ctx := newTestContext(c)
	ctx.Flags |= ContextRecoveryMode

	slot, err := selectFWSlot(ctx)
	c.Assert(err, IsNil)
	c.Check(slot, Equals, 0)
	c.Check(ctx.sd.FWSlot, Equals, 0)
	c.Check(ctx.sd.hasStatus(SDStatusChoseSlot), Equals, false)
}

func (s *selectFWSlotSuite) TestPicksTryNextNotTryCount(c *C) {
	ctx := newTestContext(c)
	c.Assert(ctx.NVSet(NVTryNextFirmware, 1), IsNil)
	c.Assert(ctx.NVSet(NVTryCountFirmware, 0), IsNil)
	c.Assert(ctx.NVSet(NVFWTried, 1), IsNil)
	c.Assert(ctx.NVSet(NVFirmwareResult, uint32(FWResultSuccess)), IsNil)

	slot, err := selectFWSlot(ctx)
	c.Assert(err, IsNil)
	c.Check(slot, Equals, 1)
	c.Check(ctx.Flags.has(ContextFWSlotB), Equals, true)
	c.Check(ctx.sd.hasStatus(SDStatusChoseSlot), Equals, true)

	c.Check(ctx.sd.LastFWSlot, Equals, 1)
	c.Check(ctx.sd.LastFWResult, Equals, FWResultSuccess)

	prevTried, err := ctx.NVGet(NVFWPrevTried)
	c.Assert(err, IsNil)
	c.Check(prevTried, Equals, uint32(1))
	prevResult, err := ctx.NVGet(NVFWPrevResult)
	c.Assert(err, IsNil)
	c.Check(prevResult, Equals, uint32(FWResultSuccess))

	tried, err := ctx.NVGet(NVFWTried)
	c.Assert(err, IsNil)
	c.Check(tried, Equals, uint32(1))
}

func (s *selectFWSlotSuite) TestFlipsToOtherSlotWhenLastTryExhausted(c *C) {
	ctx := newTestContext(c)
	c.Assert(ctx.NVSet(NVTryNextFirmware, 0), IsNil)
	c.Assert(ctx.NVSet(NVTryCountFirmware, 0), IsNil)
	c.Assert(ctx.NVSet(NVFWTried, 0), IsNil)
	c.Assert(ctx.NVSet(NVFirmwareResult, uint32(FWResultTrying)), IsNil)

	slot, err := selectFWSlot(ctx)
	c.Assert(err, IsNil)
	c.Check(slot, Equals, 1)

	tryNext, err := ctx.NVGet(NVTryNextFirmware)
	c.Assert(err, IsNil)
	c.Check(tryNext, Equals, uint32(1))
}

func (s *selectFWSlotSuite) TestDoesNotFlipWhenLastResultWasNotTrying(c *C) {
	ctx := newTestContext(c)
	c.Assert(ctx.NVSet(NVTryNextFirmware, 0), IsNil)
	c.Assert(ctx.NVSet(NVTryCountFirmware, 0), IsNil)
	c.Assert(ctx.NVSet(NVFWTried, 0), IsNil)
	c.Assert(ctx.NVSet(NVFirmwareResult, uint32(FWResultFailure)), IsNil)

	slot, err := selectFWSlot(ctx)
	c.Assert(err, IsNil)
	c.Check(slot, Equals, 0)
}

func (s *selectFWSlotSuite) TestDecrementsTryCountWhenTrying(c *C) {
	ctx := newTestContext(c)
	c.Assert(ctx.NVSet(NVTryNextFirmware, 0), IsNil)
	c.Assert(ctx.NVSet(NVTryCountFirmware, 2), IsNil)
	c.Assert(ctx.NVSet(NVFWTried, 0), IsNil)
	c.Assert(ctx.NVSet(NVFirmwareResult, uint32(FWResultSuccess)), IsNil)

	_, err := selectFWSlot(ctx)
	c.Assert(err, IsNil)

	tries, err := ctx.NVGet(NVTryCountFirmware)
	c.Assert(err, IsNil)
	c.Check(tries, Equals, uint32(1))

	result, err := ctx.NVGet(NVFirmwareResult)
	c.Assert(err, IsNil)
	c.Check(result, Equals, uint32(FWResultTrying))
}

func (s *selectFWSlotSuite) TestNofailBootSkipsTryCountDecrement(c *C) {
	ctx := newTestContext(c)
	ctx.Flags |= ContextNofailBoot
	c.Assert(ctx.NVSet(NVTryNextFirmware, 0), IsNil)
	c.Assert(ctx.NVSet(NVTryCountFirmware, 2), IsNil)
	c.Assert(ctx.NVSet(NVFWTried, 0), IsNil)
	c.Assert(ctx.NVSet(NVFirmwareResult, uint32(FWResultSuccess)), IsNil)

	_, err := selectFWSlot(ctx)
	c.Assert(err, IsNil)

	tries, err := ctx.NVGet(NVTryCountFirmware)
	c.Assert(err, IsNil)
	c.Check(tries, Equals, uint32(2))
}

type apiFailSuite struct{}

var _ = Suite(&apiFailSuite{})

func (s *apiFailSuite) TestNoSlotChosenGoesStraightToRecovery(c *C) {
	ctx := newTestContext(c)
	c.Assert(nvInit(ctx), IsNil)

	c.Assert(apiFail(ctx, RecoveryGBBHeader, 7), IsNil)

	c.Check(ctx.Flags.has(ContextRecoveryMode), Equals, true)
	req, err := ctx.NVGet(NVRecoveryRequest)
	c.Assert(err, IsNil)
	c.Check(req, Equals, uint32(RecoveryGBBHeader))
	subcode, err := ctx.NVGet(NVRecoverySubcode)
	c.Assert(err, IsNil)
	c.Check(subcode, Equals, uint32(7))
}

func (s *apiFailSuite) TestRecoveryReasonIsWriteOnce(c *C) {
	ctx := newTestContext(c)
	c.Assert(nvInit(ctx), IsNil)

	c.Assert(apiFail(ctx, RecoveryGBBHeader, 1), IsNil)
	c.Assert(apiFail(ctx, RecoveryFWPreamble, 2), IsNil)

	req, err := ctx.NVGet(NVRecoveryRequest)
	c.Assert(err, IsNil)
	c.Check(req, Equals, uint32(RecoveryGBBHeader))
}

func (s *apiFailSuite) TestSingleSlotFailureDefersToNextBoot(c *C) {
	ctx := newTestContext(c)
	c.Assert(nvInit(ctx), IsNil)
	ctx.sd.Status |= SDStatusChoseSlot
	ctx.sd.FWSlot = 0
	ctx.sd.LastFWSlot = 0
	ctx.sd.LastFWResult = FWResultSuccess

	c.Assert(apiFail(ctx, RecoveryFWPreamble, 3), IsNil)

	c.Check(ctx.Flags.has(ContextRecoveryMode), Equals, false)
	req, err := ctx.NVGet(NVRecoveryRequest)
	c.Assert(err, IsNil)
	c.Check(req, Equals, uint32(RecoveryNotRequested))

	tries, err := ctx.NVGet(NVTryCountFirmware)
	c.Assert(err, IsNil)
	c.Check(tries, Equals, uint32(0))
	tryNext, err := ctx.NVGet(NVTryNextFirmware)
	c.Assert(err, IsNil)
	c.Check(tryNext, Equals, uint32(1))
	result, err := ctx.NVGet(NVFirmwareResult)
	c.Assert(err, IsNil)
	c.Check(result, Equals, uint32(FWResultFailure))
}

// TestBothSlotsFailedTriggersRecovery is spec scenario (g): slot 0 failed
// last boot, slot 1 fails this boot before phase3 completes. Expect
// recovery requested with the current failure's reason and try_count==0.
func (s *apiFailSuite) TestBothSlotsFailedTriggersRecovery(c *C) {
	ctx := newTestContext(c)
	c.Assert(nvInit(ctx), IsNil)
	ctx.sd.Status |= SDStatusChoseSlot
	ctx.sd.FWSlot = 1
	ctx.sd.LastFWSlot = 0
	ctx.sd.LastFWResult = FWResultFailure

	c.Assert(apiFail(ctx, RecoveryFWKeyblock, 9), IsNil)

	c.Check(ctx.Flags.has(ContextRecoveryMode), Equals, true)
	req, err := ctx.NVGet(NVRecoveryRequest)
	c.Assert(err, IsNil)
	c.Check(req, Equals, uint32(RecoveryFWKeyblock))
	tries, err := ctx.NVGet(NVTryCountFirmware)
	c.Assert(err, IsNil)
	c.Check(tries, Equals, uint32(0))
}

type firmwareRollForwardSuite struct{}

var _ = Suite(&firmwareRollForwardSuite{})

func fwBodyPreamble(body []byte) *FWPreamble {
	sum := sha256.Sum256(body)
	return &FWPreamble{
		BodySize:            uint64(len(body)),
		BodyDigestAlgorithm: HashSHA256,
		BodyDigest:          sum[:],
	}
}

func (s *firmwareRollForwardSuite) newBootedContext(c *C, fwVersion, secdataVersion uint32) *Context {
	ctx := newTestContext(c)
	withGBB(c, ctx, 0)
	body := []byte("firmware body under test")
	ctx.ReadResource = func(index ResourceIndex, offset, size uint32, buf []byte) error {
		copy(buf, body[offset:offset+size])
		return nil
	}
	ctx.sd.FWVersion = fwVersion
	ctx.secFW = SecdataFirmware{Versions: secdataVersion}
	ctx.secFWInit = true
	ctx.secFWDirty = false
	c.Assert(nvInit(ctx), IsNil)
	return ctx
}

// TestHappyPathLeavesSecdataUnchanged is spec scenario (a): composite
// version matches secdata already, so there is nothing to roll forward.
func (s *firmwareRollForwardSuite) TestHappyPathLeavesSecdataUnchanged(c *C) {
	ctx := s.newBootedContext(c, 0x00020002, 0x00020002)
	body := []byte("firmware body under test")
	pre := fwBodyPreamble(body)
	ctx.sd.LastFWResult = FWResultSuccess
	ctx.sd.LastFWSlot = 0
	ctx.sd.FWSlot = 0

	c.Assert(FirmwarePhase3(ctx, pre), IsNil)

	v, err := ctx.GetFWVersionSecdata()
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(0x00020002))
}

// TestRollForwardAdvancesSecdataWhenLastBootTrustedSameSlot is spec
// scenario (b).
func (s *firmwareRollForwardSuite) TestRollForwardAdvancesSecdataWhenLastBootTrustedSameSlot(c *C) {
	ctx := s.newBootedContext(c, 0x00020003, 0x00020002)
	body := []byte("firmware body under test")
	pre := fwBodyPreamble(body)
	ctx.sd.LastFWResult = FWResultSuccess
	ctx.sd.LastFWSlot = 0
	ctx.sd.FWSlot = 0

	c.Assert(FirmwarePhase3(ctx, pre), IsNil)

	v, err := ctx.GetFWVersionSecdata()
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(0x00020003))
}

// TestRollForwardSuppressedOnSlotMismatch is spec scenario (c): the last
// boot's slot differs from this boot's slot, so the higher composite
// version is not yet trusted.
func (s *firmwareRollForwardSuite) TestRollForwardSuppressedOnSlotMismatch(c *C) {
	ctx := s.newBootedContext(c, 0x00020003, 0x00020002)
	body := []byte("firmware body under test")
	pre := fwBodyPreamble(body)
	ctx.sd.LastFWResult = FWResultSuccess
	ctx.sd.LastFWSlot = 1
	ctx.sd.FWSlot = 0

	c.Assert(FirmwarePhase3(ctx, pre), IsNil)

	v, err := ctx.GetFWVersionSecdata()
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(0x00020002))
}

// TestRollForwardSuppressedOnNonSuccessResult is also spec scenario (c),
// via the other half of the "trust last boot" gate.
func (s *firmwareRollForwardSuite) TestRollForwardSuppressedOnNonSuccessResult(c *C) {
	ctx := s.newBootedContext(c, 0x00020003, 0x00020002)
	body := []byte("firmware body under test")
	pre := fwBodyPreamble(body)
	ctx.sd.LastFWResult = FWResultTrying
	ctx.sd.LastFWSlot = 0
	ctx.sd.FWSlot = 0

	c.Assert(FirmwarePhase3(ctx, pre), IsNil)

	v, err := ctx.GetFWVersionSecdata()
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(0x00020002))
}

func (s *firmwareRollForwardSuite) TestRollbackCheckDisabledStillHashesBody(c *C) {
	ctx := s.newBootedContext(c, 0x00010001, 0x00020002)
	withGBB(c, ctx, GBBFlagDisableFWRollbackCheck)
	body := []byte("firmware body under test")
	ctx.ReadResource = func(index ResourceIndex, offset, size uint32, buf []byte) error {
		copy(buf, body[offset:offset+size])
		return nil
	}
	pre := fwBodyPreamble(body)

	c.Assert(FirmwarePhase3(ctx, pre), IsNil)

	v, err := ctx.GetFWVersionSecdata()
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(0x00020002))
}

// fakeEC is a scriptable EC collaborator used to exercise ECSync without
// any hardware or real flash timing.
type fakeEC struct {
	trusted   bool
	runningRW bool

	hashes map[ECImage][]byte
	want   map[ECImage][]byte

	updateErr map[ECImage]error
	postHash  map[ECImage][]byte // hash to report after a successful UpdateImage

	jumped    bool
	jumpErr   error
	protected []ECImage
	protectErr error
	vbootDone int
	vbootErr  error
	updated   []ECImage

	expectedHashErr error
	hashImageErr    error

	cutoffCalled int
	cutoffErr    error
}

func newFakeEC() *fakeEC {
	return &fakeEC{
		trusted: true,
		hashes:  map[ECImage][]byte{ECImageRO: {1, 1, 1}, ECImageRW: {2, 2, 2}},
		want:    map[ECImage][]byte{ECImageRO: {1, 1, 1}, ECImageRW: {2, 2, 2}},
	}
}

func (e *fakeEC) Trusted() bool             { return e.trusted }
func (e *fakeEC) RunningRW() (bool, error)  { return e.runningRW, nil }
func (e *fakeEC) JumpToRW() error           { e.jumped = true; return e.jumpErr }
func (e *fakeEC) DisableJump() error        { return nil }
func (e *fakeEC) HashImage(sel ECImage) ([]byte, error) {
	if e.hashImageErr != nil {
		return nil, e.hashImageErr
	}
	return e.hashes[sel], nil
}
func (e *fakeEC) ExpectedImageHash(sel ECImage) ([]byte, error) {
	if e.expectedHashErr != nil {
		return nil, e.expectedHashErr
	}
	return e.want[sel], nil
}
func (e *fakeEC) UpdateImage(sel ECImage) error {
	e.updated = append(e.updated, sel)
	if err, ok := e.updateErr[sel]; ok && err != nil {
		return err
	}
	if h, ok := e.postHash[sel]; ok {
		e.hashes[sel] = h
	} else {
		e.hashes[sel] = e.want[sel]
	}
	return nil
}
func (e *fakeEC) Protect(sel ECImage) error {
	e.protected = append(e.protected, sel)
	return e.protectErr
}
func (e *fakeEC) VbootDone() error { e.vbootDone++; return e.vbootErr }
func (e *fakeEC) BatteryCutoff() error {
	e.cutoffCalled++
	return e.cutoffErr
}

type ecSyncSuite struct{}

var _ = Suite(&ecSyncSuite{})

func newECSyncContext(c *C, ec *fakeEC) *Context {
	ctx := newTestContext(c)
	ctx.Flags |= ContextECSyncSupported
	ctx.EC = ec
	withGBB(c, ctx, 0)
	c.Assert(nvInit(ctx), IsNil)
	return ctx
}

// TestFastPathUpdatesRWAndJumps is spec scenario (e).
func (s *ecSyncSuite) TestFastPathUpdatesRWAndJumps(c *C) {
	ec := newFakeEC()
	ec.runningRW = false
	ec.hashes[ECImageRW] = []byte{9, 9, 9} // stale, differs from want

	ctx := newECSyncContext(c, ec)
	ctx.sd.Flags |= SDFlagDisplayAvailable
	c.Assert(ECSync(ctx), IsNil)

	c.Check(ec.updated, DeepEquals, []ECImage{ECImageRW})
	c.Check(ec.jumped, Equals, true)
	c.Check(ec.protected, DeepEquals, []ECImage{ECImageRO, ECImageRW})
	c.Check(ec.vbootDone, Equals, 1)
	req, err := ctx.NVGet(NVRecoveryRequest)
	c.Assert(err, IsNil)
	c.Check(req, Equals, uint32(RecoveryNotRequested))
	c.Check(ctx.sd.hasStatus(SDStatusECSyncComplete), Equals, true)
}

// TestUpdateSucceedsButHashStillMismatches is spec scenario (f).
func (s *ecSyncSuite) TestUpdateSucceedsButHashStillMismatches(c *C) {
	ec := newFakeEC()
	ec.runningRW = false
	ec.hashes[ECImageRW] = []byte{9, 9, 9}
	ec.postHash = map[ECImage][]byte{ECImageRW: {8, 8, 8}} // still wrong after update

	ctx := newECSyncContext(c, ec)
	ctx.sd.Flags |= SDFlagDisplayAvailable
	err := ECSync(ctx)
	c.Assert(err, NotNil)
	c.Check(KindOf(err), Equals, KindECRebootToROrequired)
	c.Check(ctx.sd.RecoveryReason, Equals, RecoveryECUpdate)
}

// TestUpdateMismatchRequestsRecoveryEvenWithSlotChosen is the integrated
// form of scenario (f): selectFWSlot has already run this boot (as it
// always has by the time the dispatcher calls ECSync) and left this
// slot's own try/result bookkeeping in the state apiFail would otherwise
// read as "don't go to recovery yet, try the other slot next boot" —
// LastFWSlot/LastFWResult show the current slot succeeded last time, so
// apiFail alone would swallow the failure. An EC-sync failure has nothing
// to do with which firmware slot was chosen, so it must still land in
// recovery with reason EC_UPDATE.
func (s *ecSyncSuite) TestUpdateMismatchRequestsRecoveryEvenWithSlotChosen(c *C) {
	ec := newFakeEC()
	ec.runningRW = false
	ec.hashes[ECImageRW] = []byte{9, 9, 9}
	ec.postHash = map[ECImage][]byte{ECImageRW: {8, 8, 8}}

	ctx := newECSyncContext(c, ec)
	ctx.sd.Flags |= SDFlagDisplayAvailable
	ctx.sd.Status |= SDStatusChoseSlot
	ctx.sd.FWSlot = 0
	ctx.sd.LastFWSlot = 0
	ctx.sd.LastFWResult = FWResultSuccess

	err := ECSync(ctx)
	c.Assert(err, NotNil)
	c.Check(KindOf(err), Equals, KindECRebootToROrequired)
	c.Check(ctx.sd.RecoveryReason, Equals, RecoveryECUpdate)
	req, getErr := ctx.NVGet(NVRecoveryRequest)
	c.Assert(getErr, IsNil)
	c.Check(RecoveryReason(req), Equals, RecoveryECUpdate)
}

// TestExpectedImageHashFailureRebootsToRO and
// TestHashImageFailureRebootsToRO check that a collaborator error reading
// either hash comes back as EC_REBOOT_TO_RO_REQUIRED — only the recorded
// recovery reason distinguishes the two cases.
func (s *ecSyncSuite) TestExpectedImageHashFailureRebootsToRO(c *C) {
	ec := newFakeEC()
	ec.expectedHashErr = NewError(KindNone, "backend unavailable")

	ctx := newECSyncContext(c, ec)
	err := ECSync(ctx)
	c.Assert(err, NotNil)
	c.Check(KindOf(err), Equals, KindECRebootToROrequired)
	c.Check(ctx.sd.RecoveryReason, Equals, RecoveryECExpectedHash)
}

func (s *ecSyncSuite) TestHashImageFailureRebootsToRO(c *C) {
	ec := newFakeEC()
	ec.hashImageErr = NewError(KindNone, "backend unavailable")

	ctx := newECSyncContext(c, ec)
	err := ECSync(ctx)
	c.Assert(err, NotNil)
	c.Check(KindOf(err), Equals, KindECRebootToROrequired)
	c.Check(ctx.sd.RecoveryReason, Equals, RecoveryECHashSize)
}

func (s *ecSyncSuite) TestRunningRWCannotUpdateItselfWithoutReboot(c *C) {
	ec := newFakeEC()
	ec.runningRW = true
	ec.hashes[ECImageRW] = []byte{9, 9, 9}

	ctx := newECSyncContext(c, ec)
	err := ECSync(ctx)
	c.Assert(err, NotNil)
	c.Check(KindOf(err), Equals, KindECRebootToROrequired)
	c.Check(ctx.sd.RecoveryReason, Equals, RecoveryReason(0))
	c.Check(len(ec.updated), Equals, 0)
}

func (s *ecSyncSuite) TestDisplayUnavailableDefersSlowUpdate(c *C) {
	ec := newFakeEC()
	ec.runningRW = false
	ec.hashes[ECImageRW] = []byte{9, 9, 9}

	ctx := newECSyncContext(c, ec)
	// display not yet available: SDFlagDisplayAvailable left unset

	err := ECSync(ctx)
	c.Assert(err, NotNil)
	c.Check(KindOf(err), Equals, KindECRebootToROrequired)
	c.Check(len(ec.updated), Equals, 0)
}

func (s *ecSyncSuite) TestDisplayAvailableAllowsSlowUpdate(c *C) {
	ec := newFakeEC()
	ec.runningRW = false
	ec.hashes[ECImageRW] = []byte{9, 9, 9}

	ctx := newECSyncContext(c, ec)
	ctx.sd.Flags |= SDFlagDisplayAvailable

	c.Assert(ECSync(ctx), IsNil)
	c.Check(ec.updated, DeepEquals, []ECImage{ECImageRW})
}

func (s *ecSyncSuite) TestTryROSyncGateControlsROUpdate(c *C) {
	ec := newFakeEC()
	ec.runningRW = false
	ec.hashes[ECImageRO] = []byte{9, 9, 9} // stale RO image

	ctx := newECSyncContext(c, ec)
	c.Assert(ECSync(ctx), IsNil)
	c.Check(len(ec.updated), Equals, 0)

	ec2 := newFakeEC()
	ec2.runningRW = false
	ec2.hashes[ECImageRO] = []byte{9, 9, 9}
	ctx2 := newECSyncContext(c, ec2)
	ctx2.sd.Flags |= SDFlagDisplayAvailable
	c.Assert(ctx2.NVSet(NVTryRoSync, 1), IsNil)
	c.Assert(ECSync(ctx2), IsNil)
	c.Check(ec2.updated, DeepEquals, []ECImage{ECImageRO})
}

func (s *ecSyncSuite) TestSecondCallIsANoOp(c *C) {
	ec := newFakeEC()
	ctx := newECSyncContext(c, ec)

	c.Assert(ECSync(ctx), IsNil)
	c.Assert(ECSync(ctx), IsNil)
	c.Check(ec.vbootDone, Equals, 1)
}

type kernelPhase3Suite struct{}

var _ = Suite(&kernelPhase3Suite{})

func newKernelBootedContext(c *C, kernelVersion, secdataVersion uint32) *Context {
	ctx := newTestContext(c)
	ctx.Flags |= ContextAllowKernelRollForward
	ctx.sd.Flags |= SDFlagKernelSigned
	ctx.sd.KernelVersion = kernelVersion
	ctx.secKern = SecdataKernel{Versions: secdataVersion}
	ctx.secKernInit = true
	c.Assert(nvInit(ctx), IsNil)
	return ctx
}

func (s *kernelPhase3Suite) TestRecoveryModeNeverRollsForward(c *C) {
	ctx := newKernelBootedContext(c, 5, 2)
	ctx.Flags |= ContextRecoveryMode

	c.Assert(KernelPhase3(ctx, &KernelPreamble{}), IsNil)

	v, err := ctx.GetKernelVersionSecdata()
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(2))
}

func (s *kernelPhase3Suite) TestMissingAllowRollForwardFlagSkipsCommit(c *C) {
	ctx := newTestContext(c)
	ctx.sd.Flags |= SDFlagKernelSigned
	ctx.sd.KernelVersion = 5
	ctx.secKern = SecdataKernel{Versions: 2}
	ctx.secKernInit = true
	c.Assert(nvInit(ctx), IsNil)

	c.Assert(KernelPhase3(ctx, &KernelPreamble{}), IsNil)

	v, err := ctx.GetKernelVersionSecdata()
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(2))
}

func (s *kernelPhase3Suite) TestVersionAtOrBelowFloorDoesNotRoll(c *C) {
	ctx := newKernelBootedContext(c, 2, 2)
	c.Assert(KernelPhase3(ctx, &KernelPreamble{}), IsNil)

	v, err := ctx.GetKernelVersionSecdata()
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(2))
}

func (s *kernelPhase3Suite) TestRollsForwardToNewVersion(c *C) {
	ctx := newKernelBootedContext(c, 5, 2)
	c.Assert(ctx.NVSet(NVKernelMaxRollforward, 0xFFFFFFFF), IsNil)

	c.Assert(KernelPhase3(ctx, &KernelPreamble{}), IsNil)

	v, err := ctx.GetKernelVersionSecdata()
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(5))
}

func (s *kernelPhase3Suite) TestRollForwardClampedToNVCeiling(c *C) {
	ctx := newKernelBootedContext(c, 10, 2)
	c.Assert(ctx.NVSet(NVKernelMaxRollforward, 4), IsNil)

	c.Assert(KernelPhase3(ctx, &KernelPreamble{}), IsNil)

	v, err := ctx.GetKernelVersionSecdata()
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(4))
}

func (s *kernelPhase3Suite) TestCeilingBelowFloorDoesNotRoll(c *C) {
	ctx := newKernelBootedContext(c, 10, 5)
	c.Assert(ctx.NVSet(NVKernelMaxRollforward, 3), IsNil)

	c.Assert(KernelPhase3(ctx, &KernelPreamble{}), IsNil)

	v, err := ctx.GetKernelVersionSecdata()
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(5))
}
