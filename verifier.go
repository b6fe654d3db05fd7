package iamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// RemoteVerifier checks a token against the IAM server's verification
// endpoint. It fails closed: transport errors, timeouts and non-success
// responses are all treated as invalid. Claims still come from the local
// codec so callers get one shape either way.
type RemoteVerifier struct {
	endpoint string
	client   *http.Client
	codec    *TokenCodec
	logger   Logger
}

// NewRemoteVerifier builds a verifier against cfg.VerifyURL() with the
// configured short timeout. Each request performs at most this one outbound
// call; it never hangs indefinitely.
func NewRemoteVerifier(cfg Config, codec *TokenCodec) *RemoteVerifier {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &RemoteVerifier{
		endpoint: cfg.VerifyURL(),
		client:   &http.Client{Timeout: timeout},
		codec:    codec,
		logger:   defLogger{},
	}
}

func (v *RemoteVerifier) WithLogger(logger Logger) *RemoteVerifier {
	if logger != nil {
		v.logger = logger
	}
	return v
}

// Verify satisfies TokenVerifier.
func (v *RemoteVerifier) Verify(ctx context.Context, raw string) (*TokenClaims, error) {
	body, err := json.Marshal(map[string]string{"token": raw})
	if err != nil {
		return nil, ErrTokenMalformed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, ErrUpstreamUnavailable
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := v.client.Do(req)
	if err != nil {
		v.logger.Warn("IAM verify endpoint %s unreachable: %v", v.endpoint, err)
		return nil, ErrUpstreamUnavailable
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		v.logger.Warn("IAM verify endpoint %s rejected token %s with status %d",
			v.endpoint, TokenPreview(raw), res.StatusCode)
		return nil, ErrTokenSignature
	}

	if v.codec == nil {
		return nil, ErrTokenMalformed
	}
	return v.codec.Decode(raw)
}

var _ TokenVerifier = (*RemoteVerifier)(nil)
var _ TokenVerifier = (*TokenCodec)(nil)
