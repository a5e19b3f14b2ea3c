// Copyright 2023 The mqttmux Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mux

import "errors"

// Common adapter errors.
var (
	// ErrClosed is returned by any operation invoked after Close.
	ErrClosed = errors.New("adapter is closed")
	// ErrNotConnected is returned by Publish while no broker connection is
	// ready.
	ErrNotConnected = errors.New("adapter is not connected")
	// ErrAlreadyConnected is returned by Connect while a connection is
	// already established or being established.
	ErrAlreadyConnected = errors.New("adapter is already connected")
	// ErrNoFactory is returned by NewAdapter when no transport factory is
	// supplied.
	ErrNoFactory = errors.New("transport factory is required")
)
