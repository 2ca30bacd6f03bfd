// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2015-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cpuminer

import (
	"github.com/decred/slog"
)

var log = slog.Disabled

func UseLogger(logger slog.Logger) {
	log = logger
}
