// Package signature verifies server-to-server webhook requests. The
// sending side signs the raw request body with a shared secret and puts
// the signature in a header; unsigned or tampered requests never reach
// the handler.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
)

var (
	ErrSignatureMissing = errors.New("signature header missing")
	ErrSignatureInvalid = errors.New("invalid signature")
	ErrTokenInvalid     = errors.New("invalid token")
	ErrSecretMissing    = errors.New("signature secret required")
)

// MethodHMAC signs the raw body with HMAC-SHA256; MethodJWT expects a
// compact JWT in the header signed with the shared secret.
const (
	MethodHMAC = "hmac"
	MethodJWT  = "jwt"
)

// DefaultHeaderName is the default header carrying the signature.
const DefaultHeaderName = "IAM-Signature"

// Config defines the configuration for signature middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(router.Context) bool

	// Secret is the shared signing secret
	Secret []byte

	// HeaderName defines the header carrying the signature
	HeaderName string

	// Method selects the verification scheme, MethodHMAC or MethodJWT
	Method string

	// ErrorHandler defines the error handler
	ErrorHandler router.ErrorHandler
}

func configDefault(config ...Config) Config {
	cfg := Config{}
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.Method == "" {
		cfg.Method = MethodHMAC
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	return cfg
}

func defaultErrorHandler(ctx router.Context, err error) error {
	message := "invalid signature"
	if errors.Is(err, ErrTokenInvalid) {
		message = "invalid token"
	}
	return ctx.JSON(http.StatusForbidden, map[string]string{
		"message": message,
	})
}

// New creates a new signature verification middleware
func New(config ...Config) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		cfg := configDefault(config...)

		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return ctx.Next()
			}

			if len(cfg.Secret) == 0 {
				return cfg.ErrorHandler(ctx, ErrSecretMissing)
			}

			header := ctx.Header(cfg.HeaderName)
			if header == "" {
				return cfg.ErrorHandler(ctx, ErrSignatureMissing)
			}

			var err error
			switch cfg.Method {
			case MethodJWT:
				err = verifyJWT(header, cfg.Secret)
			default:
				err = verifyHMAC(ctx.Body(), header, cfg.Secret)
			}

			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			return hf(ctx)
		}
	}
}

// verifyHMAC checks the hex HMAC-SHA256 digest of the raw body.
func verifyHMAC(body []byte, header string, secret []byte) error {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	received, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return ErrSignatureInvalid
	}

	if !hmac.Equal(expected, received) {
		return ErrSignatureInvalid
	}
	return nil
}

// verifyJWT checks that the header carries a JWT signed with the shared
// secret. Claims beyond validity are the handler's concern.
func verifyJWT(header string, secret []byte) error {
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))

	if err != nil || !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 digest the sending side should put in
// the signature header.
func Sign(body, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
