// Copyright 2026 The Hostwatch Authors
// SPDX-License-Identifier: Apache-2.0

package sample

import (
	"fmt"
	"strings"
)

// Key identifies a monitored entity: a logical CPU, a block device, a
// network interface. Class names the source that produces it ("cpu",
// "disk", "nic"); ID is unique within the class ("cpu3", "sda", "eth0").
//
// Key is comparable and used as a map key and as the partition key of
// all stored history.
type Key struct {
	Class string
	ID    string
}

// String returns the canonical "class/id" form.
func (k Key) String() string {
	return k.Class + "/" + k.ID
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool {
	return k.Class == "" && k.ID == ""
}

// Less orders keys by class, then ID. Used to process entities in a
// stable order.
func (k Key) Less(other Key) bool {
	if k.Class != other.Class {
		return k.Class < other.Class
	}
	return k.ID < other.ID
}

// ParseKey parses the "class/id" form. The ID may itself contain
// slashes; only the first one separates class from ID.
func ParseKey(text string) (Key, error) {
	class, id, found := strings.Cut(text, "/")
	if !found || class == "" || id == "" {
		return Key{}, fmt.Errorf("sample: invalid entity key %q (want class/id)", text)
	}
	return Key{Class: class, ID: id}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
