// Package token builds, signs and parses the identity payload a student
// renders as a QR code.
//
// The wire form is a JSON object with exactly three string fields:
//
//	{"issued_date":"2026-10-19","signature":"<64 hex>","subject_id":"S1001"}
//
// Only subject_id and issued_date are signed. Their canonical encoding is
// frozen: changing it invalidates every token in circulation, exactly like a
// key rotation.
package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// DateLayout is the calendar date format used on the wire.
const DateLayout = "2006-01-02"

// ErrMalformedToken is returned by Parse for structurally invalid payloads.
var ErrMalformedToken = errors.New("malformed token")

// IdentityToken is a parsed wire payload. It is never persisted.
type IdentityToken struct {
	SubjectID  string
	IssuedDate string
	Signature  string
}

// canonical fields in lexicographic key order.
type canonical struct {
	IssuedDate string `json:"issued_date"`
	SubjectID  string `json:"subject_id"`
}

type wire struct {
	IssuedDate string `json:"issued_date"`
	Signature  string `json:"signature"`
	SubjectID  string `json:"subject_id"`
}

// Encode returns the canonical bytes fed to the signer.
func Encode(subjectID, issuedDate string) ([]byte, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("%w: empty subject id", ErrMalformedToken)
	}
	if _, err := time.Parse(DateLayout, issuedDate); err != nil {
		return nil, fmt.Errorf("%w: issued date %q", ErrMalformedToken, issuedDate)
	}
	return marshal(canonical{IssuedDate: issuedDate, SubjectID: subjectID})
}

// Marshal renders the wire payload.
func Marshal(t IdentityToken) ([]byte, error) {
	return marshal(wire{IssuedDate: t.IssuedDate, Signature: t.Signature, SubjectID: t.SubjectID})
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Parse checks structure only: a JSON object with the three named string
// fields, each present once and non-empty, and a well formed date. It does
// not verify the signature or the date's freshness.
func Parse(raw []byte) (IdentityToken, error) {
	fields, err := readObject(bytes.TrimSpace(raw))
	if err != nil {
		return IdentityToken{}, err
	}
	if len(fields) != 3 {
		return IdentityToken{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedToken, len(fields))
	}

	var t IdentityToken
	for name, dst := range map[string]*string{
		"subject_id":  &t.SubjectID,
		"issued_date": &t.IssuedDate,
		"signature":   &t.Signature,
	} {
		v, ok := fields[name]
		if !ok {
			return IdentityToken{}, fmt.Errorf("%w: missing %s", ErrMalformedToken, name)
		}
		if err := json.Unmarshal(v, dst); err != nil || *dst == "" {
			return IdentityToken{}, fmt.Errorf("%w: %s must be a non-empty string", ErrMalformedToken, name)
		}
	}
	if _, err := time.Parse(DateLayout, t.IssuedDate); err != nil {
		return IdentityToken{}, fmt.Errorf("%w: issued_date must be YYYY-MM-DD", ErrMalformedToken)
	}
	return t, nil
}

// readObject walks a single top-level JSON object and returns its members.
// Repeated keys and trailing data are rejected.
func readObject(raw []byte) (map[string]json.RawMessage, error) {
	notObject := fmt.Errorf("%w: not a json object", ErrMalformedToken)
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, notObject
	}
	fields := make(map[string]json.RawMessage)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, notObject
		}
		key, ok := tok.(string)
		if !ok {
			return nil, notObject
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("%w: repeated field %s", ErrMalformedToken, key)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, notObject
		}
		fields[key] = v
	}
	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, notObject
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformedToken)
	}
	return fields, nil
}
