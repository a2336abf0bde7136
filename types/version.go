package types

// Version is the canonical project version.
// The flight stack, ground tooling, and pass notification contract share
// this version.
const Version = "0.3.0"

// ContractVersion is the pass notification contract version.
const ContractVersion = Version
