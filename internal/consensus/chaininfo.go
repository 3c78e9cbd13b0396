package consensus

// ChainInformation is the consensus snapshot passed to Reset/Initialize
// (spec.md §4.2 "reset(chain_info, body, justification)"). It carries
// everything the meta store and consensus side-tables need to describe the
// chain's state as of the block being installed as both best and finalized.
type ChainInformation struct {
	FinalizedBlockHeader []byte // SCALE-encoded header of the installed block

	GrandpaAuthoritiesSetID     uint64
	GrandpaTriggeredAuthorities []Authority
	GrandpaScheduledAuthorities []Authority
	// GrandpaScheduledTarget is the block number at which
	// GrandpaScheduledAuthorities takes effect, if any is pending.
	GrandpaScheduledTarget *uint64

	AuraSlotDuration uint64
	AuraAuthorities  []AuraAuthority

	BabeSlotsPerEpoch      uint64
	BabeFinalizedEpoch     *BabeEpochInformation
	BabeFinalizedNextEpoch *BabeEpochInformation
}
