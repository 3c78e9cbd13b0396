package chaindb

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/xerrors"
)

// Expected-failure sentinels (spec.md §7): surfaced to the caller as-is,
// never retried, never wrapped in CorruptionError. Test for them with
// errors.Is.
var (
	ErrDuplicate                = xerrors.New("chaindb: block already present")
	ErrMissingParent            = xerrors.New("chaindb: parent block not found")
	ErrBadHeader                = xerrors.New("chaindb: header failed to decode")
	ErrBestNotInFinalizedChain  = xerrors.New("chaindb: new best block does not descend from the finalized block")
	ErrUnknownBlock             = xerrors.New("chaindb: block not found")
	ErrRevertForbidden          = xerrors.New("chaindb: finalized number may not decrease")
	ErrIncompleteStorage        = xerrors.New("chaindb: a trie node required for this query is missing")
)

// CorruptionKind classifies a CorruptionError (spec.md §7's "Corrupted" sub-kinds).
type CorruptionKind int

const (
	InvalidBlockHashLen CorruptionKind = iota
	InvalidTrieHashLen
	MissingMetaKey
	MissingBlockHeader
	BrokenChain
	ConsensusAlgorithmMix
	InvalidBabeEpochInformation
	InvalidTrieEntryVersion
	InvalidChainInformation
	InternalStoreError
)

func (k CorruptionKind) String() string {
	switch k {
	case InvalidBlockHashLen:
		return "invalid block hash length"
	case InvalidTrieHashLen:
		return "invalid trie hash length"
	case MissingMetaKey:
		return "missing meta key"
	case MissingBlockHeader:
		return "missing block header"
	case BrokenChain:
		return "broken chain: parent not found"
	case ConsensusAlgorithmMix:
		return "contradictory consensus metadata"
	case InvalidBabeEpochInformation:
		return "invalid BABE epoch information"
	case InvalidTrieEntryVersion:
		return "invalid trie entry version"
	case InvalidChainInformation:
		return "invalid chain information"
	case InternalStoreError:
		return "internal store error"
	default:
		return "unknown corruption kind"
	}
}

// CorruptionError means the on-disk store violates an invariant this package
// relies on. Per spec.md §7 there is no recovery path: the only sanctioned
// response is to stop the program or delete the database.
type CorruptionError struct {
	Kind CorruptionKind
	err  error
}

func (c *CorruptionError) Error() string {
	if c.err != nil {
		return "chaindb: corrupted database: " + c.Kind.String() + ": " + c.err.Error()
	}
	return "chaindb: corrupted database: " + c.Kind.String()
}

func (c *CorruptionError) Unwrap() error { return c.err }

func corrupt(kind CorruptionKind, err error) error {
	return errors.WithStack(&CorruptionError{Kind: kind, err: err})
}

func corruptf(kind CorruptionKind, format string, args ...interface{}) error {
	return corrupt(kind, xerrors.Errorf(format, args...))
}
