// Package proposal implements the signed operator-proposal envelope from
// spec.md §6: out-of-band operator-level state transitions (parameter
// updates, model promotions, emergency actions), Ed25519-signed over the
// canonical JSON of (payload, metadata). Grounded directly on spec.md's
// wire shape; Ed25519 is a deliberate departure from the teacher's
// secp256k1/ECDSA signing (go-ethereum's crypto package) since this is a
// distinct, off-chain operator channel, not an on-chain transaction.
package proposal

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kaelstrom/tradecore/pkg/canonjson"
)

// PayloadType enumerates the accepted proposal kinds.
type PayloadType string

const (
	PayloadParamUpdate     PayloadType = "PARAM_UPDATE"
	PayloadModelPromotion  PayloadType = "MODEL_PROMOTION"
	PayloadEmergencyAction PayloadType = "EMERGENCY_ACTION"
)

// EmergencyAction enumerates the actions an EMERGENCY_ACTION payload may carry.
type EmergencyAction string

const (
	ActionHaltTrading EmergencyAction = "HALT_TRADING"
	ActionCancelAll   EmergencyAction = "CANCEL_ALL"
	ActionReduceOnly  EmergencyAction = "REDUCE_ONLY"
	ActionDisableVenue EmergencyAction = "DISABLE_VENUE"
)

// Payload is the proposal body: type plus a raw-JSON data blob, decoded per
// Type by the subsystem that owns it (config for PARAM_UPDATE, etc).
type Payload struct {
	Type PayloadType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Metadata identifies and timestamps a proposal, independent of its content.
type Metadata struct {
	ID          string    `json:"id"`
	Author      string    `json:"author"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// signedBody is exactly the two fields the signature is computed over, in
// the field order SPEC_FULL.md §2 fixes as canonical.
type signedBody struct {
	Payload  Payload  `json:"payload"`
	Metadata Metadata `json:"metadata"`
}

// Envelope is the full wire shape of a signed proposal.
type Envelope struct {
	Payload   Payload  `json:"payload"`
	Metadata  Metadata `json:"metadata"`
	Signature string   `json:"signature"` // hex
	PublicKey string   `json:"publicKey"` // hex
}

// ErrInvalidSignature is returned by Verify when the signature does not
// match the canonical (payload, metadata) bytes under the embedded key.
var ErrInvalidSignature = fmt.Errorf("proposal: invalid signature")

// Sign builds a fully-populated, signed Envelope from a payload and
// metadata using the given Ed25519 private key.
func Sign(payload Payload, meta Metadata, priv ed25519.PrivateKey) (Envelope, error) {
	body, err := canonjson.Marshal(signedBody{Payload: payload, Metadata: meta})
	if err != nil {
		return Envelope{}, fmt.Errorf("proposal: sign: %w", err)
	}
	sig := ed25519.Sign(priv, body)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return Envelope{}, fmt.Errorf("proposal: sign: private key has no ed25519 public key")
	}
	return Envelope{
		Payload:   payload,
		Metadata:  meta,
		Signature: hex.EncodeToString(sig),
		PublicKey: hex.EncodeToString(pub),
	}, nil
}

// Verify checks that Envelope.Signature is a valid Ed25519 signature over
// the canonical (payload, metadata) bytes under Envelope.PublicKey, and
// that PublicKey matches trustedKey (the operator key this process was
// configured to trust -- an envelope is never trusted purely because it is
// internally self-consistent).
func Verify(env Envelope, trustedKey ed25519.PublicKey) error {
	pub, err := hex.DecodeString(env.PublicKey)
	if err != nil {
		return fmt.Errorf("proposal: decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize || !ed25519.PublicKey(pub).Equal(trustedKey) {
		return fmt.Errorf("proposal: public key does not match trusted operator key")
	}

	sig, err := hex.DecodeString(env.Signature)
	if err != nil {
		return fmt.Errorf("proposal: decode signature: %w", err)
	}

	body, err := canonjson.Marshal(signedBody{Payload: env.Payload, Metadata: env.Metadata})
	if err != nil {
		return fmt.Errorf("proposal: verify: %w", err)
	}

	if !ed25519.Verify(trustedKey, body, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// EmergencyActionData is the Data payload for an EMERGENCY_ACTION proposal.
type EmergencyActionData struct {
	Action EmergencyAction `json:"action"`
	Venue  string          `json:"venue,omitempty"` // required only for DISABLE_VENUE
}

// DecodeEmergencyAction unmarshals a Payload's Data into EmergencyActionData,
// validating Type first.
func DecodeEmergencyAction(p Payload) (EmergencyActionData, error) {
	if p.Type != PayloadEmergencyAction {
		return EmergencyActionData{}, fmt.Errorf("proposal: expected %s payload, got %s", PayloadEmergencyAction, p.Type)
	}
	var data EmergencyActionData
	if err := json.Unmarshal(p.Data, &data); err != nil {
		return EmergencyActionData{}, fmt.Errorf("proposal: decode emergency action: %w", err)
	}
	return data, nil
}
