package token

import (
	"fmt"
	"time"
)

// Issuer produces signed identity payloads for the QR rendering surface.
type Issuer struct {
	signer *Signer
	loc    *time.Location
}

// NewIssuer dates tokens in loc, the same zone the scan side checks against.
func NewIssuer(signer *Signer, loc *time.Location) *Issuer {
	if loc == nil {
		loc = time.UTC
	}
	return &Issuer{signer: signer, loc: loc}
}

// Issue signs subjectID for the calendar day of now.
func (i *Issuer) Issue(subjectID string, now time.Time) (IdentityToken, []byte, error) {
	date := now.In(i.loc).Format(DateLayout)
	canonical, err := Encode(subjectID, date)
	if err != nil {
		return IdentityToken{}, nil, fmt.Errorf("issue token: %w", err)
	}
	t := IdentityToken{SubjectID: subjectID, IssuedDate: date, Signature: i.signer.Sign(canonical)}
	payload, err := Marshal(t)
	if err != nil {
		return IdentityToken{}, nil, fmt.Errorf("issue token: %w", err)
	}
	return t, payload, nil
}

// Verify reports whether t carries a valid signature over its own fields.
func (i *Issuer) Verify(t IdentityToken) bool {
	canonical, err := Encode(t.SubjectID, t.IssuedDate)
	if err != nil {
		return false
	}
	return i.signer.Verify(canonical, t.Signature)
}
