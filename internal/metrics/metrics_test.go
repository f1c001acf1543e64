package metrics

import (
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
		IncBookingTransition("confirmed")
		IncWaitlistJoin()
		IncHoldExpired()
		IncReschedule("approved")
		IncPolicyEvaluation("default")
		IncNotification("delivered")
		IncInvariantViolation("cancel")
		IncBotUpdate("command")
		ObserveBotUpdate(0.02)
	})
}

func TestPromotionCounter(t *testing.T) {
	before := testutil.ToFloat64(waitlistPromotions)
	IncPromotion()
	IncPromotion()
	assert.Equal(t, before+2, testutil.ToFloat64(waitlistPromotions))
}

func TestBotUpdateCounter(t *testing.T) {
	before := testutil.ToFloat64(botUpdates.WithLabelValues("callback"))
	IncBotUpdate("callback")
	assert.Equal(t, before+1, testutil.ToFloat64(botUpdates.WithLabelValues("callback")))
}
