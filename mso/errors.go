// Copyright 2023 The go-scope Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mso

import "fmt"

// ValidationError reports a caller-supplied argument that violates a
// static constraint (channel index, unsupported enum value, out of
// range scale). It is always raised before any I/O takes place.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "mso: " + e.Reason
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedDeviceError reports an instrument whose *IDN? reply does
// not match the expected vendor and product-family prefix.
type UnsupportedDeviceError struct {
	IDN string
}

func (e *UnsupportedDeviceError) Error() string {
	return fmt.Sprintf("mso: unsupported device, identifies as %q", e.IDN)
}

// ProtocolError reports an instrument reply that fails to parse or
// violates the expected SCPI grammar.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "mso: protocol violation: " + e.Reason
}

func protocolErrorf(format string, args ...interface{}) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}
