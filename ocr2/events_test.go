package ocr2

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"
)

type failingSink struct{ err error }

func (s failingSink) Emit(context.Context, solana.PublicKey, Event) error { return s.err }

func Test_FanoutSink(t *testing.T) {
	ctx := tests.Context(t)
	a, b := &recordingSink{}, &recordingSink{}
	boom := errors.New("boom")
	sink := FanoutSink{a, failingSink{boom}, NewLoggerSink(logger.Test(t)), b}

	err := sink.Emit(ctx, solana.PublicKey{1}, SetBilling{ObservationPaymentGjuels: 1})
	require.ErrorIs(t, err, boom)
	assert.Len(t, a.named("SetBilling"), 1)
	assert.Len(t, b.named("SetBilling"), 1)

	require.NoError(t, FanoutSink{a}.Emit(ctx, solana.PublicKey{1}, RoundRequested{}))
	assert.Len(t, a.named("RoundRequested"), 1)
}

func Test_Aggregator_EmitFailureIsLogged(t *testing.T) {
	e := newTestEnv(t)
	e.agg.events = failingSink{errors.New("sink down")}
	require.NoError(t, e.agg.SetBilling(e.ctx, e.owner, 1, 2))
	assert.Equal(t, uint32(2), e.agg.Config().Billing.TransmissionPaymentGjuels)
}

func Test_ErrorCode(t *testing.T) {
	assert.Equal(t, "success", errorCode(nil))
	assert.Equal(t, "stale_report", errorCode(ErrStaleReport))
	assert.Equal(t, "unauthorized_signer", errorCode(errors.Join(errors.New("x"), ErrUnauthorizedSigner)))
	assert.Equal(t, "unauthorized", errorCode(ErrUnauthorized))
	assert.Equal(t, "other", errorCode(errors.New("x")))
}
