package gatehouse

import (
	"context"
	"errors"
	"net/http"

	"github.com/gatehouse-security/gatehouse-go/internal/signing"
)

var ErrNotInitialized = errors.New("gatehouse is not initialized, call Init first")

// SignRequest computes signature headers for an outbound request and adds
// them to r. body must be the exact bytes that will be sent.
func SignRequest(keyID string, r *http.Request, body []byte) error {
	inst := getInstance()
	if inst == nil {
		return ErrNotInitialized
	}

	headers, err := inst.signer.Sign(signingOptions(keyID, r, body))
	if err != nil {
		return err
	}
	for name, values := range headers {
		for _, v := range values {
			r.Header.Set(name, v)
		}
	}
	return nil
}

// VerifyRequest checks the signature headers of an inbound request against
// body. It claims the nonce, so a verified request cannot be replayed.
func VerifyRequest(ctx context.Context, r *http.Request, body []byte) error {
	inst := getInstance()
	if inst == nil {
		return ErrNotInitialized
	}
	return inst.signer.Verify(ctx, r, body, true)
}

func signingOptions(keyID string, r *http.Request, body []byte) signing.SignOptions {
	headers := r.Header.Clone()
	if headers == nil {
		headers = http.Header{}
	}

	// Outbound requests built with http.NewRequest keep the host in the URL
	// until the transport sends them; the verifier reads it from r.Host.
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if host != "" {
		headers.Set("Host", host)
	}
	return signing.SignOptions{
		KeyID:   keyID,
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: headers,
		Body:    body,
	}
}
