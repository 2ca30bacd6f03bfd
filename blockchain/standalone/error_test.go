// Copyright (c) 2019 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package standalone

import (
	"errors"
	"testing"
)

// TestErrorKindStringer tests the stringized output for the ErrorKind type.
func TestErrorKindStringer(t *testing.T) {
	tests := []struct {
		in   ErrorKind
		want string
	}{
		{ErrUnexpectedDifficulty, "ErrUnexpectedDifficulty"},
		{ErrHighHash, "ErrHighHash"},
		{ErrBadMerkleRoot, "ErrBadMerkleRoot"},
		{ErrBadWitnessCommitment, "ErrBadWitnessCommitment"},
	}

	for i, test := range tests {
		result := test.in.Error()
		if result != test.want {
			t.Errorf("Error #%d\n got: %s want: %s", i, result, test.want)
		}
	}
}

// TestRuleError tests the error output for the RuleError type.
func TestRuleError(t *testing.T) {
	tests := []struct {
		in   RuleError
		want string
	}{{
		RuleError{Description: "duplicate block"},
		"duplicate block",
	}, {
		RuleError{Description: "human-readable error"},
		"human-readable error",
	}}

	for i, test := range tests {
		result := test.in.Error()
		if result != test.want {
			t.Errorf("Error #%d\n got: %s want: %s", i, result, test.want)
		}
	}
}

// TestRuleErrorIs ensures errors.Is correctly matches a RuleError against its
// underlying ErrorKind.
func TestRuleErrorIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
		want bool
	}{{
		name: "ErrUnexpectedDifficulty testing for ErrUnexpectedDifficulty",
		err:  ruleError(ErrUnexpectedDifficulty, ""),
		kind: ErrUnexpectedDifficulty,
		want: true,
	}, {
		name: "ErrHighHash testing for ErrHighHash",
		err:  ruleError(ErrHighHash, ""),
		kind: ErrHighHash,
		want: true,
	}, {
		name: "ErrHighHash error testing for ErrUnexpectedDifficulty",
		err:  ruleError(ErrHighHash, ""),
		kind: ErrUnexpectedDifficulty,
		want: false,
	}, {
		name: "nil error testing for ErrUnexpectedDifficulty",
		err:  nil,
		kind: ErrUnexpectedDifficulty,
		want: false,
	}}
	for _, test := range tests {
		result := errors.Is(test.err, test.kind)
		if result != test.want {
			t.Errorf("%s: unexpected result -- got: %v want: %v", test.name,
				result, test.want)
		}
	}
}
