package signer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/dasio/base45"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/flate"
	"github.com/veraison/go-cose"

	dErrors "vcissuer/pkg/domain-errors"
)

// jsonToCBOR re-encodes a JSON document as CBOR. The credential is treated as
// an opaque document; key ordering follows the CBOR canonical form.
func jsonToCBOR(document []byte) ([]byte, error) {
	var value any
	if err := json.Unmarshal(document, &value); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEncoding, "credential is not valid JSON")
	}
	encoded, err := cbor.Marshal(value)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEncoding, "CBOR encoding failed")
	}
	return encoded, nil
}

// checkCOSESign1 verifies the signer returned a structurally valid COSE_Sign1
// message. The cryptographic signature itself is the signer's responsibility;
// a payload that does not even parse means the response was corrupted.
func checkCOSESign1(raw []byte) error {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(raw); err != nil {
		return dErrors.Wrap(err, dErrors.CodeEncoding, "signer response is not a COSE_Sign1 message")
	}
	return nil
}

// deflateCompress DEFLATE-compresses the COSE bytes ahead of Base45 encoding.
func deflateCompress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEncoding, "DEFLATE initialization failed")
	}
	if _, err := w.Write(raw); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEncoding, "DEFLATE compression failed")
	}
	if err := w.Close(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEncoding, "DEFLATE compression failed")
	}
	return buf.Bytes(), nil
}

// decodeSignerPayload turns the base64 sign response back into raw COSE bytes.
func decodeSignerPayload(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeEncoding, "signer response is not valid base64")
	}
	return raw, nil
}

func base45Encode(raw []byte) string {
	return base45.EncodeToString(raw)
}

func encodeDocumentForCOSE(cborBytes []byte) string {
	return base64.StdEncoding.EncodeToString(cborBytes)
}
