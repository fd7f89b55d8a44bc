package cli

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/invoice-desk/internal/invoice"
	"github.com/odyssey-erp/invoice-desk/jobs"
)

func TestParseReprint(t *testing.T) {
	payload, err := ParseReprint("purchase", "42", "tok")
	require.NoError(t, err)
	assert.Equal(t, invoice.KindPurchase, payload.Kind)
	assert.Equal(t, int64(42), payload.InvoiceID)
	assert.Equal(t, "tok", payload.Token)

	for _, args := range [][3]string{
		{"returns", "42", "tok"},
		{"sales", "x", "tok"},
		{"sales", "0", "tok"},
		{"sales", "42", ""},
	} {
		_, err := ParseReprint(args[0], args[1], args[2])
		assert.Error(t, err, "%v", args)
	}
}

func TestNilCLIReportsMisconfiguration(t *testing.T) {
	var c *JobsCLI
	_, err := c.InspectQueue(t.Context())
	assert.Error(t, err)

	payload, err := ParseReprint("sales", "1", "tok")
	require.NoError(t, err)
	_, err = c.Reprint(t.Context(), payload)
	assert.Error(t, err)
}

func TestReprintQueuesTaskWithoutToken(t *testing.T) {
	mr := miniredis.RunT(t)
	ops, err := NewJobsCLI(t.Context(), mr.Addr(), time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ops.Close() })

	payload, err := ParseReprint("sales", "12", "operator-token")
	require.NoError(t, err)
	id, err := ops.Reprint(t.Context(), payload)
	require.NoError(t, err)

	info, err := ops.inspector.GetTaskInfo(jobs.QueueDefault, id)
	require.NoError(t, err)
	assert.Equal(t, asynq.TaskStatePending, info.State)
	assert.NotContains(t, string(info.Payload), "operator-token")

	stats, err := ops.InspectQueue(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}
