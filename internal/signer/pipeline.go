// Package signer turns unsigned credentials into signed, format-encoded
// artifacts via the remote signature provider. The compact CWT format chains
// CBOR, COSE, DEFLATE and Base45; JWT-VC is signed as a JAdES document and
// returned verbatim.
package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"vcissuer/internal/domain"
	"vcissuer/internal/platform/metrics"
	dErrors "vcissuer/pkg/domain-errors"
)

// RemoteSigner is the slice of the signer client the pipeline needs.
type RemoteSigner interface {
	Sign(ctx context.Context, req SignRequest, authToken string) (string, error)
}

// Pipeline drives a credential through the remote signer and the requested
// wire encoding. It has no persistence side effects; the workflow layer owns
// storing the artifact.
type Pipeline struct {
	remote  RemoteSigner
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type PipelineOption func(*Pipeline)

func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

func WithMetrics(m *metrics.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

func NewPipeline(remote RemoteSigner, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		remote: remote,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sign produces the signed artifact for the requested format. Unsupported
// formats fail before any network call.
func (p *Pipeline) Sign(ctx context.Context, unsigned json.RawMessage, format domain.Format, authToken string, procedureID uuid.UUID) (string, error) {
	start := time.Now()
	var (
		artifact string
		err      error
	)
	switch format {
	case domain.FormatJWTVC:
		artifact, err = p.signJWTVC(ctx, unsigned, authToken)
	case domain.FormatCWT:
		artifact, err = p.signCWT(ctx, unsigned, authToken)
	default:
		return "", dErrors.New(dErrors.CodeUnsupportedFormat,
			fmt.Sprintf("unsupported credential format %q", format))
	}
	if err != nil {
		p.logger.Error("signing failed",
			"procedure_id", procedureID, "format", string(format), "error", err.Error())
		return "", err
	}

	if p.metrics != nil {
		p.metrics.SigningLatency.WithLabelValues(string(format)).Observe(time.Since(start).Seconds())
	}
	p.logger.Info("credential signed",
		"procedure_id", procedureID, "format", string(format), "duration_ms", time.Since(start).Milliseconds())
	return artifact, nil
}

func (p *Pipeline) signJWTVC(ctx context.Context, unsigned json.RawMessage, authToken string) (string, error) {
	signed, err := p.remote.Sign(ctx, SignRequest{
		Type:     SignatureTypeJAdES,
		Document: string(unsigned),
	}, authToken)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeSigning, "remote signer rejected JAdES document")
	}
	return signed, nil
}

func (p *Pipeline) signCWT(ctx context.Context, unsigned json.RawMessage, authToken string) (string, error) {
	cborBytes, err := jsonToCBOR(unsigned)
	if err != nil {
		return "", err
	}

	signed, err := p.remote.Sign(ctx, SignRequest{
		Type:     SignatureTypeCOSE,
		Document: encodeDocumentForCOSE(cborBytes),
	}, authToken)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeSigning, "remote signer rejected COSE document")
	}

	coseBytes, err := decodeSignerPayload(signed)
	if err != nil {
		return "", err
	}
	if err := checkCOSESign1(coseBytes); err != nil {
		return "", err
	}

	compressed, err := deflateCompress(coseBytes)
	if err != nil {
		return "", err
	}
	return base45Encode(compressed), nil
}
