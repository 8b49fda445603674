// Package auth provides the credentials an agent presents to the control
// plane, and the verification used by the controller side.
//
// # Authentication Methods
//
// A control-plane hello carries two proofs together:
//
//   - JWT Token: Minted by the agent with the shared secret, HS256 signed,
//     subject set to the agent identifier.
//
//   - SSH Signature: The agent signs "timestamp|nonce" with its SSH private
//     key. The controller verifies the signature, checks the timestamp
//     window, and rejects replayed nonces.
//
// # Agent Side
//
// The agent builds one Credentials value per connection attempt:
//
//	tokens, _ := auth.NewTokenManager(secret)
//	signer, _ := auth.LoadSigner("/etc/l2gw/agent_key")
//	creds, _ := auth.NewCredentials("l2gw-agent-1", tokens, signer, time.Hour)
//
// # Controller Side
//
// The Verifier binds both proofs: the token's subject must match the claimed
// agent identifier, and the signing key must be on the allowlist when one is
// configured.
//
//	v := auth.NewVerifier(tokens)
//	v.AllowKey(pubkeyLine)
//	agentID, fingerprint, err := v.Verify(creds)
//
// # Fingerprints
//
// Keys are identified by the lowercase hex SHA256 of their wire form:
//
//	fp, err := auth.ParseFingerprintFromKey("ssh-ed25519 AAAA...")
package auth
