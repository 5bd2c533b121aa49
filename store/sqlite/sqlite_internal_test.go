package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fees-engine/generic"
)

func TestScan_CorruptAmountIsAnError(t *testing.T) {
	// GIVEN: An invoice row whose amount is not a decimal
	// WHEN: It is read back
	// THEN: The read fails instead of yielding a zero amount

	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	_, err = s.db.ExecContext(ctx, `INSERT INTO invoices
		(id, institution_id, student_id, total_amount, status, due_date, created_at)
		VALUES ('inv-bad', 'inst-1', 'stu-1', 'twelve', 'posted', '2025-01-10', '2025-01-01T00:00:00.000000000Z')`)
	require.NoError(t, err)

	_, err = s.GetInvoice(ctx, "inv-bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt decimal")

	_, err = s.ListInvoices(ctx, generic.InvoiceFilter{InstitutionID: "inst-1"})
	assert.Error(t, err)
}

func TestParseDecimal(t *testing.T) {
	d, err := parseDecimal("1250.50")
	require.NoError(t, err)
	assert.Equal(t, "1250.50", d.StringFixed(2))

	_, err = parseDecimal("")
	assert.Error(t, err)
}
