package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("test_endpoint")
	})

	before := testutil.ToFloat64(processorCalls.WithLabelValues("create_intent", "error"))
	IncProcessorCall("create_intent", errors.New("declined"))
	assert.Equal(t, before+1, testutil.ToFloat64(processorCalls.WithLabelValues("create_intent", "error")))

	IncTransition("pending", "confirmed")
	assert.Equal(t, float64(1), testutil.ToFloat64(bookingTransitions.WithLabelValues("pending", "confirmed")))

	IncNotification("email", nil)
	assert.Equal(t, float64(1), testutil.ToFloat64(notifications.WithLabelValues("email", "ok")))

	IncJobRun("booking_reminders", "skipped")
	IncPartialFailure("persist_after_payment")
	assert.Equal(t, float64(1), testutil.ToFloat64(partialFailures.WithLabelValues("persist_after_payment")))
}
