package transport_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bulkmailer/campaign-engine/internal/config"
	appErrors "github.com/bulkmailer/campaign-engine/internal/errors"
	"github.com/bulkmailer/campaign-engine/internal/metrics"
	"github.com/bulkmailer/campaign-engine/internal/transport"
)

func TestVerifyFailureCountsAgainstTheHost(t *testing.T) {
	// Port 1 on loopback refuses the connection immediately.
	cfg := config.SMTP{Host: "127.0.0.1", Port: 1}
	m := transport.NewSMTPMailer(cfg, zap.NewNop())

	before := testutil.ToFloat64(metrics.MailVerifyFailure.WithLabelValues(cfg.Host))

	err := m.Verify(context.Background())
	require.Error(t, err)

	var te *appErrors.TransportError
	assert.ErrorAs(t, err, &te, "verify failures carry the transport taxonomy")

	after := testutil.ToFloat64(metrics.MailVerifyFailure.WithLabelValues(cfg.Host))
	assert.Equal(t, before+1, after, "failure counts under the failing host label")
}
