package signer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/dasio/base45"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"

	"vcissuer/internal/domain"
	dErrors "vcissuer/pkg/domain-errors"
)

type fakeRemote struct {
	calls    int
	lastReq  SignRequest
	response func(req SignRequest) (string, error)
}

func (f *fakeRemote) Sign(_ context.Context, req SignRequest, _ string) (string, error) {
	f.calls++
	f.lastReq = req
	return f.response(req)
}

// sign1For wraps the submitted CBOR document in a structurally valid
// COSE_Sign1 envelope, the way the remote signer would.
func sign1For(t *testing.T, req SignRequest) (string, error) {
	t.Helper()
	payload, err := base64.StdEncoding.DecodeString(req.Document)
	require.NoError(t, err)

	msg := cose.NewSign1Message()
	msg.Headers.Protected[cose.HeaderLabelAlgorithm] = cose.AlgorithmES256
	msg.Payload = payload
	msg.Signature = []byte("test-signature")
	raw, err := msg.MarshalCBOR()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw), nil
}

func TestSign_JWTVCPassesThrough(t *testing.T) {
	remote := &fakeRemote{response: func(SignRequest) (string, error) {
		return "eyJhbGciOiJFUzI1NiJ9.payload.sig", nil
	}}
	pipeline := NewPipeline(remote)

	artifact, err := pipeline.Sign(context.Background(), json.RawMessage(`{"id":"urn:uuid:1"}`),
		domain.FormatJWTVC, "token", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "eyJhbGciOiJFUzI1NiJ9.payload.sig", artifact)
	assert.Equal(t, SignatureTypeJAdES, remote.lastReq.Type)
	assert.Equal(t, `{"id":"urn:uuid:1"}`, remote.lastReq.Document)
}

func TestSign_CWTChainRoundTrips(t *testing.T) {
	remote := &fakeRemote{}
	remote.response = func(req SignRequest) (string, error) { return sign1For(t, req) }
	pipeline := NewPipeline(remote)

	source := json.RawMessage(`{"id":"urn:uuid:2","credentialSubject":{"company":{"commonName":"Corp"}}}`)
	artifact, err := pipeline.Sign(context.Background(), source, domain.FormatCWT, "token", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, SignatureTypeCOSE, remote.lastReq.Type)

	// walk the chain backwards: Base45 -> DEFLATE -> COSE -> CBOR -> JSON
	compressed, err := base45.DecodeString(artifact)
	require.NoError(t, err)

	coseBytes, err := io.ReadAll(flate.NewReader(bytes.NewReader(compressed)))
	require.NoError(t, err)

	var msg cose.Sign1Message
	require.NoError(t, msg.UnmarshalCBOR(coseBytes))

	var decoded map[any]any
	require.NoError(t, cbor.Unmarshal(msg.Payload, &decoded))
	assert.Equal(t, "urn:uuid:2", decoded["id"])
}

func TestSign_UnsupportedFormatNeverCallsSigner(t *testing.T) {
	remote := &fakeRemote{response: func(SignRequest) (string, error) { return "", nil }}
	pipeline := NewPipeline(remote)

	_, err := pipeline.Sign(context.Background(), json.RawMessage(`{}`),
		domain.Format("ldp_vc"), "token", uuid.New())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnsupportedFormat))
	assert.Zero(t, remote.calls)
}

func TestSign_SignerRejectionIsSigningError(t *testing.T) {
	remote := &fakeRemote{response: func(SignRequest) (string, error) {
		return "", &StatusError{Status: 400, Body: "bad document"}
	}}
	pipeline := NewPipeline(remote)

	_, err := pipeline.Sign(context.Background(), json.RawMessage(`{}`),
		domain.FormatJWTVC, "token", uuid.New())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSigning))
}

func TestSign_CorruptedSignerPayloadIsEncodingError(t *testing.T) {
	remote := &fakeRemote{response: func(SignRequest) (string, error) {
		return "%%% not base64 %%%", nil
	}}
	pipeline := NewPipeline(remote)

	_, err := pipeline.Sign(context.Background(), json.RawMessage(`{}`),
		domain.FormatCWT, "token", uuid.New())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeEncoding))
}

func TestCBOREncoding_RoundTripsLogicalJSON(t *testing.T) {
	source := []byte(`{"a":1,"b":["x","y"],"c":{"nested":true}}`)
	encoded, err := jsonToCBOR(source)
	require.NoError(t, err)

	var viaCBOR any
	require.NoError(t, cbor.Unmarshal(encoded, &viaCBOR))

	reencoded, err := json.Marshal(normalizeCBOR(viaCBOR))
	require.NoError(t, err)
	assert.JSONEq(t, string(source), string(reencoded))
}

// normalizeCBOR rewrites cbor's map[any]any decoding into JSON-encodable maps.
func normalizeCBOR(v any) any {
	switch m := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k.(string)] = normalizeCBOR(val)
		}
		return out
	case []any:
		for i := range m {
			m[i] = normalizeCBOR(m[i])
		}
		return m
	case uint64:
		return int64(m)
	default:
		return v
	}
}

func TestBase45_RoundTripsDeflateOutput(t *testing.T) {
	for _, input := range [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("verifiable certification payload"),
		bytes.Repeat([]byte{0x00, 0xFF, 0x42}, 100),
	} {
		compressed, err := deflateCompress(input)
		require.NoError(t, err)

		decoded, err := base45.DecodeString(base45Encode(compressed))
		require.NoError(t, err)
		assert.Equal(t, compressed, decoded)
	}
}

func TestIsRecoverable(t *testing.T) {
	assert.False(t, IsRecoverable(nil))
	assert.True(t, IsRecoverable(context.DeadlineExceeded))
	assert.True(t, IsRecoverable(&StatusError{Status: 503}))
	assert.True(t, IsRecoverable(&StatusError{Status: 429}))
	assert.False(t, IsRecoverable(&StatusError{Status: 400}))
	assert.False(t, IsRecoverable(errors.New("document schema invalid")))
}
