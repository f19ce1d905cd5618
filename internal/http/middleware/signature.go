package middleware

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"
)

const (
	SignatureHeader = "X-Ed25519-Signature"
	TimestampHeader = "X-Ed25519-Timestamp"

	maxSignedBody = 1 << 20
)

type fieldError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type failure struct {
	Status string       `json:"status"`
	Errors []fieldError `json:"errors"`
}

func reject(c echo.Context, status int, errs ...fieldError) error {
	return c.JSON(status, failure{Status: "FAILURE", Errors: errs})
}

// ParsePublicKey decodes a hex encoded ed25519 public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("ed25519 public key must be 32 bytes")
	}
	return ed25519.PublicKey(raw), nil
}

// SignedMessage is what the relay signs: "{timestamp}.{len(body)}.{body}".
func SignedMessage(ts string, body []byte) []byte {
	var b bytes.Buffer
	b.WriteString(ts)
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(len(body)))
	b.WriteByte('.')
	b.Write(body)
	return b.Bytes()
}

// SignatureMiddleware verifies that the body was signed by the relay.
// maxSkew <= 0 disables the timestamp freshness check.
func SignatureMiddleware(pub ed25519.PublicKey, maxSkew time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			sig := req.Header.Get(SignatureHeader)
			ts := req.Header.Get(TimestampHeader)

			var missing []fieldError
			if sig == "" {
				missing = append(missing, fieldError{Name: SignatureHeader, Message: "Missing signature"})
			}
			if ts == "" {
				missing = append(missing, fieldError{Name: TimestampHeader, Message: "Missing timestamp"})
			}
			if len(missing) > 0 {
				return reject(c, http.StatusUnauthorized, missing...)
			}

			rawSig, err := hex.DecodeString(sig)
			if err != nil || len(rawSig) != ed25519.SignatureSize {
				return reject(c, http.StatusBadRequest, fieldError{Name: SignatureHeader, Message: "Signature is not valid hex"})
			}

			if maxSkew > 0 {
				sec, err := strconv.ParseInt(ts, 10, 64)
				if err != nil {
					return reject(c, http.StatusBadRequest, fieldError{Name: TimestampHeader, Message: "Timestamp is not a unix time"})
				}
				if d := time.Since(time.Unix(sec, 0)); d > maxSkew || d < -maxSkew {
					return reject(c, http.StatusUnauthorized, fieldError{Name: TimestampHeader, Message: "Timestamp outside allowed window"})
				}
			}

			body, err := io.ReadAll(io.LimitReader(req.Body, maxSignedBody))
			if err != nil {
				return reject(c, http.StatusBadRequest, fieldError{Name: "body", Message: "Unreadable body"})
			}
			_ = req.Body.Close()
			req.Body = io.NopCloser(bytes.NewReader(body))

			if !ed25519.Verify(pub, SignedMessage(ts, body), rawSig) {
				return reject(c, http.StatusUnauthorized, fieldError{Name: SignatureHeader, Message: "Invalid signature"})
			}
			return next(c)
		}
	}
}
