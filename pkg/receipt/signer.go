package receipt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const codeLength = 16

// Fields are the printed receipt values covered by the verification code.
type Fields struct {
	ReceiptNumber  string
	StudentID      string
	Amount         string
	CollectionDate time.Time
}

func (f Fields) payload() string {
	return strings.Join([]string{f.ReceiptNumber, f.StudentID, f.Amount, f.CollectionDate.UTC().Format("2006-01-02")}, "|")
}

// Signer issues and checks short HMAC codes printed on receipts.
type Signer struct {
	secret []byte
}

// NewSigner constructs a signer with the provided secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Code returns the verification code for the receipt fields.
func (s *Signer) Code(fields Fields) (string, error) {
	if fields.ReceiptNumber == "" || fields.Amount == "" {
		return "", fmt.Errorf("receipt number and amount required")
	}
	if len(s.secret) == 0 {
		return "", fmt.Errorf("signing secret missing")
	}
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(fields.payload()))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil))[:codeLength]), nil
}

// Verify reports whether code matches the receipt fields.
func (s *Signer) Verify(fields Fields, code string) bool {
	expected, err := s.Code(fields)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(strings.ToUpper(strings.TrimSpace(code))))
}
