package receipt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignerCodeAndVerify(t *testing.T) {
	signer := NewSigner("secret")
	fields := Fields{
		ReceiptNumber:  "RCP-2024-000001",
		StudentID:      "stu-1",
		Amount:         "3000.00",
		CollectionDate: time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC),
	}
	code, err := signer.Code(fields)
	require.NoError(t, err)
	require.Len(t, code, 16)

	require.True(t, signer.Verify(fields, code))
	require.True(t, signer.Verify(fields, " "+code+" "))

	tampered := fields
	tampered.Amount = "30000.00"
	require.False(t, signer.Verify(tampered, code))
}

func TestSignerRejectsMissingSecret(t *testing.T) {
	signer := NewSigner("")
	_, err := signer.Code(Fields{ReceiptNumber: "RCP-2024-000001", Amount: "1.00"})
	require.Error(t, err)
	require.False(t, signer.Verify(Fields{ReceiptNumber: "RCP-2024-000001", Amount: "1.00"}, "ABC"))
}

func TestSignerDiffersBySecret(t *testing.T) {
	fields := Fields{ReceiptNumber: "RCP-2024-000009", StudentID: "stu-9", Amount: "800.00", CollectionDate: time.Now()}
	a, err := NewSigner("one").Code(fields)
	require.NoError(t, err)
	b, err := NewSigner("two").Code(fields)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}
