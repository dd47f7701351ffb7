// Package keys provides the signing keys that back OMNI identities.
//
// Stable:
//   - Signer, Verify and the Ed25519 / Dilithium3 key types.
//   - PEM loading and role-seed derivation.
//
// Experimental:
//   - KeyStore, the filesystem-backed seed store used by the CLI.
//     Its on-disk layout may change between minor releases.
package keys
