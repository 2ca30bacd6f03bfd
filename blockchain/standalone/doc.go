// Copyright (c) 2019-2022 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package standalone provides standalone functions useful for working with the
Bitcoin blockchain consensus rules.

The primary goal of offering these functions via a separate package is to
reduce the required dependencies to a minimum as compared to the blockchain
package.

It is ideal for applications such as lightweight clients that need to ensure
basic security properties hold without needing a full chain index, such as
block explorers and SPV wallets that need to prove block headers connect
together, that they satisfy the proof of work requirements, and that a full
list of transaction hashes produces a header's merkle root.  The package does
not build or verify merkle inclusion proofs for individual transactions.

# Function categories

The provided functions fall into the following categories:

  - Proof-of-work
  - Merkle root calculation and duplicate-leaf detection
  - Block subsidy calculation
  - Coinbase transaction identification
  - Transaction sanity checking

# Proof-of-work

  - Converting to and from the compact target difficulty representation
  - Calculating work values based on the compact target difficulty
  - Checking a block hash satisfies a target difficulty and that target
    difficulty is within a valid range

# Merkle root calculation

  - Calculation from individual leaf hashes
  - Detecting the CVE-2012-2459 duplicate-leaf merkle root mutation

# Subsidy calculation

  - Block subsidy for a given height, halving every subsidy reduction
    interval

# Errors

Errors returned by this package are of type standalone.RuleError.  This
allows the caller to differentiate between errors further up the call stack
through errors.As.  In addition, callers can programmatically determine the
specific rule violation via errors.Is against the ErrorKind constants.
*/
package standalone
