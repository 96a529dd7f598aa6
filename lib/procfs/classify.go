// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package procfs

import (
	"os"
	"path/filepath"

	"github.com/hostwatch/hostwatch/lib/sample"
)

// Tags assigned by SysfsClassifier.
const (
	TagCPU        = "cpu"
	TagCPUTotal   = "cpu-total"
	TagDisk       = "disk"
	TagPartition  = "partition"
	TagVirtual    = "virtual-disk"
	TagPhysicalIF = "physical-nic"
	TagVirtualIF  = "virtual-nic"
	TagScheduler  = "scheduler"
)

// SysfsClassifier tags entities from sysfs layout:
//
//   - a block device listed in /sys/block with a device link is a disk;
//     without one (loop, ram, dm-*) it is virtual; anything not listed
//     there is a partition
//   - an interface with /sys/class/net/<name>/device is physical
//   - the scheduler entity is always "scheduler"
type SysfsClassifier struct {
	SysRoot string
}

func (c SysfsClassifier) Classify(key sample.Key) string {
	root := c.SysRoot
	if root == "" {
		root = "/sys"
	}
	switch key.Class {
	case ClassCPU:
		if key.ID == AllCPUs {
			return TagCPUTotal
		}
		return TagCPU
	case ClassDisk:
		block := filepath.Join(root, "block", key.ID)
		if !exists(block) {
			return TagPartition
		}
		if exists(filepath.Join(block, "device")) {
			return TagDisk
		}
		return TagVirtual
	case ClassSched:
		return TagScheduler
	case ClassNIC:
		if exists(filepath.Join(root, "class", "net", key.ID, "device")) {
			return TagPhysicalIF
		}
		return TagVirtualIF
	}
	return ""
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
