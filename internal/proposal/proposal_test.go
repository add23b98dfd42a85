package proposal

import (
	"crypto/ed25519"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedFixture(t *testing.T) (Envelope, ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	data, err := json.Marshal(EmergencyActionData{Action: ActionHaltTrading})
	require.NoError(t, err)

	payload := Payload{Type: PayloadEmergencyAction, Data: data}
	meta := Metadata{ID: "prop-1", Author: "ops", Title: "halt", Timestamp: time.Unix(0, 0).UTC()}

	env, err := Sign(payload, meta, priv)
	require.NoError(t, err)
	return env, pub, priv
}

func TestSignAndVerify_RoundTrip(t *testing.T) {
	env, pub, _ := signedFixture(t)
	assert.NoError(t, Verify(env, pub))
}

func TestVerify_RejectsTamperedPayload(t *testing.T) {
	env, pub, _ := signedFixture(t)
	data, _ := json.Marshal(EmergencyActionData{Action: ActionCancelAll})
	env.Payload.Data = data

	err := Verify(env, pub)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_RejectsUntrustedKey(t *testing.T) {
	env, _, _ := signedFixture(t)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	err = Verify(env, otherPub)
	assert.Error(t, err)
}

func TestDecodeEmergencyAction_HappyPath(t *testing.T) {
	env, _, _ := signedFixture(t)
	data, err := DecodeEmergencyAction(env.Payload)
	require.NoError(t, err)
	assert.Equal(t, ActionHaltTrading, data.Action)
}

func TestDecodeEmergencyAction_RejectsWrongPayloadType(t *testing.T) {
	_, err := DecodeEmergencyAction(Payload{Type: PayloadParamUpdate})
	assert.Error(t, err)
}
