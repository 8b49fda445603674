// ABOUTME: The credentials payload an agent presents in its control-plane hello
// ABOUTME: Bundles the bearer token with a fresh SSH signature

package auth

import (
	"time"

	"github.com/google/uuid"
)

// Credentials is the authentication material carried by a hello frame.
type Credentials struct {
	AgentID   string `json:"agent_id"`
	Token     string `json:"token"`
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// NewCredentials mints a token and signs a fresh timestamp and nonce. Each
// connection attempt gets its own credentials; reusing one trips the
// controller's replay protection.
func NewCredentials(agentID string, tokens *TokenManager, signer *Signer, tokenTTL time.Duration) (Credentials, error) {
	token, err := tokens.Mint(agentID, tokenTTL)
	if err != nil {
		return Credentials{}, err
	}

	timestamp := time.Now().Unix()
	nonce := uuid.New().String()
	signature, err := signer.Sign(timestamp, nonce)
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{
		AgentID:   agentID,
		Token:     token,
		Pubkey:    signer.PublicKeyLine(),
		Signature: signature,
		Timestamp: timestamp,
		Nonce:     nonce,
	}, nil
}
