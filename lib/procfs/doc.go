// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

// Package procfs reads Linux kernel counters into snapshots.
//
// Four sources are provided, one per entity class:
//
//   - cpu: per-CPU time from /proc/stat in centiseconds, plus the
//     "all" aggregate line
//   - disk: /proc/diskstats, one entity per block device or partition
//   - nic: /proc/net/dev, one entity per interface
//   - sched: forks, context switches, interrupts, run and block queues
//     from /proc/stat and load averages from /proc/loadavg, as the
//     single entity sched/system
//
// Parsing is done by github.com/prometheus/procfs. Counters that the
// kernel keeps as unsigned long are declared with the platform word
// width, so 32-bit hosts get correct wrap handling.
//
// SysfsClassifier tags entities by what sysfs says about them
// (physical vs virtual NIC, whole disk vs partition).
package procfs
