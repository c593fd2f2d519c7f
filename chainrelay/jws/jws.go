// Package jws implements the three JSON Web Signature representations used
// for Whiteflag authentication payloads — compact, flattened, and full —
// and the conversions between them (RFC 7515).
package jws

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/whiteflag/relay/chainrelay/chainerr"
	"github.com/whiteflag/relay/chainrelay/encoding"
)

// Header is the JOSE protected header. Only the fields this system needs
// are modeled. Extra is excluded from JSON encoding and decoding, so
// unknown header members are dropped on decode and never serialized.
type Header struct {
	Alg   string                 `json:"alg"`
	Typ   string                 `json:"typ,omitempty"`
	Extra map[string]interface{} `json:"-"`
}

// Payload is the Whiteflag sign payload plus an optional injected iat.
type Payload map[string]interface{}

// Flattened is the JWS flattened JSON serialization: three string members.
type Flattened struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// Full is the JWS "full" representation used internally: protected and
// payload are deserialized objects rather than base64url strings.
type Full struct {
	Protected Header  `json:"protected"`
	Payload   Payload `json:"payload"`
	Signature string  `json:"signature"`
}

// Jws is a closed sum type over the three representations. Exactly one of
// the unexported compact, flattened and full fields is meaningful, selected
// by Kind.
type Jws struct {
	Kind      Representation
	compact   string
	flattened Flattened
	full      Full
}

type Representation int

const (
	RepUnknown Representation = iota
	RepCompact
	RepFlattened
	RepFull
)

// Create returns an empty full-representation JWS, the starting point for
// building a new signature.
func Create() Jws {
	return Jws{Kind: RepFull, full: Full{Payload: Payload{}}}
}

// CreateSignInput builds a full JWS from a payload and algorithm. If
// injectIat is true, payload["iat"] is set to floor(now()) in seconds
// before the sign input is computed.
func CreateSignInput(payload Payload, alg string, injectIat bool, now func() time.Time) Full {
	p := Payload{}
	for k, v := range payload {
		p[k] = v
	}
	if injectIat {
		if now == nil {
			now = time.Now
		}
		p["iat"] = now().Unix()
	}
	return Full{
		Protected: Header{Alg: alg, Typ: "JWT"},
		Payload:   p,
	}
}

// SerializeSignInput computes the exact bytes a signature covers:
// BASE64URL(JSON(protected)) "." BASE64URL(JSON(payload)).
func SerializeSignInput(full Full) (string, error) {
	protectedJSON, err := marshalCanonical(full.Protected)
	if err != nil {
		return "", fmt.Errorf("jws: marshal protected header: %w", err)
	}
	payloadJSON, err := marshalCanonical(full.Payload)
	if err != nil {
		return "", fmt.Errorf("jws: marshal payload: %w", err)
	}
	return encoding.Base64URLEncode(protectedJSON) + "." + encoding.Base64URLEncode(payloadJSON), nil
}

// marshalCanonical marshals with no inter-key whitespace — json.Marshal
// already omits whitespace by default, so this exists only to document the
// requirement at the call sites that depend on it (toCompact in particular).
func marshalCanonical(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Detect classifies an arbitrary decoded-JSON value into a Representation,
// per spec: a string is compact; an object with both protected and payload
// as strings is flattened; an object with both as objects is full.
func Detect(v interface{}) (Representation, error) {
	switch t := v.(type) {
	case string:
		return RepCompact, nil
	case map[string]interface{}:
		protected, hasProtected := t["protected"]
		payload, hasPayload := t["payload"]
		if !hasProtected || !hasPayload {
			return RepUnknown, chainerr.NewNonRetryable(chainerr.ErrCodeBadJWS, "invalid JWS: missing protected or payload member", nil)
		}
		_, protectedIsString := protected.(string)
		_, payloadIsString := payload.(string)
		if protectedIsString && payloadIsString {
			return RepFlattened, nil
		}
		_, protectedIsObject := protected.(map[string]interface{})
		_, payloadIsObject := payload.(map[string]interface{})
		if protectedIsObject && payloadIsObject {
			return RepFull, nil
		}
		return RepUnknown, chainerr.NewNonRetryable(chainerr.ErrCodeBadJWS, "invalid JWS: protected/payload type mismatch", nil)
	default:
		return RepUnknown, chainerr.NewNonRetryable(chainerr.ErrCodeBadJWS, "invalid JWS: unrecognized shape", nil)
	}
}

// FromCompact parses a compact-serialized JWS string.
func FromCompact(s string) Jws {
	return Jws{Kind: RepCompact, compact: s}
}

// FromFlattened wraps an already-parsed flattened JWS.
func FromFlattened(f Flattened) Jws {
	return Jws{Kind: RepFlattened, flattened: f}
}

// FromFull wraps an already-parsed full JWS.
func FromFull(f Full) Jws {
	return Jws{Kind: RepFull, full: f}
}

// ToCompact converts any representation to the compact string form.
func (j Jws) ToCompact() (string, error) {
	switch j.Kind {
	case RepCompact:
		return j.compact, nil
	case RepFlattened:
		return j.flattened.Protected + "." + j.flattened.Payload + "." + j.flattened.Signature, nil
	case RepFull:
		protectedJSON, err := marshalCanonical(j.full.Protected)
		if err != nil {
			return "", fmt.Errorf("jws: marshal protected: %w", err)
		}
		payloadJSON, err := marshalCanonical(j.full.Payload)
		if err != nil {
			return "", fmt.Errorf("jws: marshal payload: %w", err)
		}
		return encoding.Base64URLEncode(protectedJSON) + "." +
			encoding.Base64URLEncode(payloadJSON) + "." + j.full.Signature, nil
	default:
		return "", chainerr.NewNonRetryable(chainerr.ErrCodeBadJWS, "jws: unknown representation", nil)
	}
}

// ToFlattened converts any representation to the flattened object form.
// The result always has exactly three string members; a missing signature
// becomes the empty string.
func (j Jws) ToFlattened() (Flattened, error) {
	switch j.Kind {
	case RepFlattened:
		return j.flattened, nil
	case RepCompact:
		parts := strings.Split(j.compact, ".")
		if len(parts) != 3 {
			return Flattened{}, chainerr.NewNonRetryable(chainerr.ErrCodeBadJWS, "jws: compact form must have 3 segments", nil)
		}
		return Flattened{Protected: parts[0], Payload: parts[1], Signature: parts[2]}, nil
	case RepFull:
		protectedJSON, err := marshalCanonical(j.full.Protected)
		if err != nil {
			return Flattened{}, fmt.Errorf("jws: marshal protected: %w", err)
		}
		payloadJSON, err := marshalCanonical(j.full.Payload)
		if err != nil {
			return Flattened{}, fmt.Errorf("jws: marshal payload: %w", err)
		}
		sig := j.full.Signature
		return Flattened{
			Protected: encoding.Base64URLEncode(protectedJSON),
			Payload:   encoding.Base64URLEncode(payloadJSON),
			Signature: sig,
		}, nil
	default:
		return Flattened{}, chainerr.NewNonRetryable(chainerr.ErrCodeBadJWS, "jws: unknown representation", nil)
	}
}

// ToFull converts any representation to the full (deserialized) object form.
func (j Jws) ToFull() (Full, error) {
	switch j.Kind {
	case RepFull:
		return j.full, nil
	case RepFlattened:
		return decodeFlattened(j.flattened)
	case RepCompact:
		flat, err := j.ToFlattened()
		if err != nil {
			return Full{}, err
		}
		return decodeFlattened(flat)
	default:
		return Full{}, chainerr.NewNonRetryable(chainerr.ErrCodeBadJWS, "jws: unknown representation", nil)
	}
}

// Decode accepts a flattened JWS and validates that every member present is
// a string, accumulating all failing members into a single bad-request
// error, per spec.
func Decode(raw map[string]interface{}) (Full, error) {
	var missing []string
	get := func(key string) (string, bool) {
		v, ok := raw[key]
		if !ok {
			missing = append(missing, key+" (missing)")
			return "", false
		}
		s, ok := v.(string)
		if !ok {
			missing = append(missing, key+" (not a string)")
			return "", false
		}
		return s, true
	}

	protected, okP := get("protected")
	payload, okPl := get("payload")
	signature, okS := get("signature")

	if !okP || !okPl || !okS {
		return Full{}, chainerr.NewNonRetryable(
			chainerr.ErrCodeBadRequest,
			fmt.Sprintf("jws: invalid flattened JWS, bad members: %s", strings.Join(missing, ", ")),
			nil,
		)
	}

	return decodeFlattened(Flattened{Protected: protected, Payload: payload, Signature: signature})
}

func decodeFlattened(f Flattened) (Full, error) {
	protectedBytes, err := encoding.Base64URLDecode(f.Protected)
	if err != nil {
		return Full{}, chainerr.NewNonRetryable(chainerr.ErrCodeBadJWS, "jws: invalid protected base64url", err)
	}
	payloadBytes, err := encoding.Base64URLDecode(f.Payload)
	if err != nil {
		return Full{}, chainerr.NewNonRetryable(chainerr.ErrCodeBadJWS, "jws: invalid payload base64url", err)
	}

	var header Header
	if err := json.Unmarshal(protectedBytes, &header); err != nil {
		return Full{}, chainerr.NewNonRetryable(chainerr.ErrCodeBadJWS, "jws: invalid protected header JSON", err)
	}
	var payload Payload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return Full{}, chainerr.NewNonRetryable(chainerr.ErrCodeBadJWS, "jws: invalid payload JSON", err)
	}

	return Full{Protected: header, Payload: payload, Signature: f.Signature}, nil
}
