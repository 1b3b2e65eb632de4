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

package main

import (
	"os"

	"golang.org/x/xerrors"
	yaml "gopkg.in/yaml.v2"

	vboot2 "github.com/snapcore/vboot2core"
)

// boardConfig describes one simulated board: the flash/disk images that
// stand in for a real host's flash chip and boot disk, the persistence
// files backing nvdata and the three secdata stores, and the initial
// context flags a real firmware build would derive from GBB flags and
// switch positions before FirmwarePhase1 ever runs.
type boardConfig struct {
	GBB             string `yaml:"gbb"`
	FWVBlock        string `yaml:"fw_vblock"`
	FWBody          string `yaml:"fw_body"`
	KernelVBlock    string `yaml:"kernel_vblock"`
	KernelBody      string `yaml:"kernel_body"`

	NVData           string `yaml:"nvdata"`
	SecdataFirmware  string `yaml:"secdata_firmware"`
	SecdataKernel    string `yaml:"secdata_kernel"`
	SecdataFWMP      string `yaml:"secdata_fwmp"`

	WorkbufSize int `yaml:"workbuf_size"`

	DeveloperMode bool `yaml:"developer_mode"`
	RecoveryMode  bool `yaml:"recovery_mode"`
}

func loadBoardConfig(path string) (*boardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("cannot read board descriptor: %w", err)
	}
	cfg := &boardConfig{WorkbufSize: 16 * 1024}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, xerrors.Errorf("cannot parse board descriptor %s: %w", path, err)
	}
	return cfg, nil
}

// imagePaths maps the resource images this board configures onto the
// vboot2core resource indices ReadResource is asked for.
func (c *boardConfig) imagePaths() map[vboot2.ResourceIndex]string {
	paths := map[vboot2.ResourceIndex]string{}
	if c.GBB != "" {
		paths[vboot2.ResGBB] = c.GBB
	}
	if c.FWVBlock != "" {
		paths[vboot2.ResFWVBlock] = c.FWVBlock
	}
	if c.KernelVBlock != "" {
		paths[vboot2.ResKernelVBlock] = c.KernelVBlock
	}
	if c.FWBody != "" {
		paths[vboot2.ResFWBody] = c.FWBody
	}
	return paths
}
