// Copyright 2024 The Crest Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package invariants gates expensive self-checks behind build tags. Code
// guards its assertions with Enabled so that production builds pay nothing
// for them.
package invariants

import "github.com/crestdb/crest/internal/buildtags"

// Enabled is true if we were built with the "invariants" or "race" build
// tags.
const Enabled = buildtags.Invariants || buildtags.Race
