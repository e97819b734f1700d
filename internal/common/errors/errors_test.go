package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", NewValidationError("bad qty"), KindValidation},
		{"missing recipient", NewMissingRecipientError("order_created_vendor"), KindValidation},
		{"policy", NewPolicyBlockedError("quiet_hours", "Quiet hours", nil), KindPolicyBlocked},
		{"not found", NewNotFoundError("Order", "o-1"), KindNotFound},
		{"transition", NewInvalidTransitionError("served", "pending"), KindStateConflict},
		{"security", NewSecurityError("no candidate"), KindSecurity},
		{"query", NewQueryExecutionFailedError("cart.select", stderrors.New("boom")), KindTransient},
		{"wrapped", fmt.Errorf("place order: %w", NewStateConflictError("cart locked")), KindStateConflict},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"plain", stderrors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWrapQuery(t *testing.T) {
	assert.Nil(t, WrapQuery("x", nil))

	err := WrapQuery("cart.select", context.DeadlineExceeded)
	assert.True(t, HasCode(err, ErrCodeQueryTimeout))

	err = WrapQuery("cart.select", stderrors.New("conn reset"))
	assert.True(t, HasCode(err, ErrCodeQueryExecutionFailed))

	original := NewNotFoundError("Cart", "c-1")
	assert.Same(t, original, WrapQuery("cart.select", original))
}

func TestUserMessage_HidesSecurityDetails(t *testing.T) {
	msg := UserMessage(NewSecurityError("hash mismatch for venue v-1"))
	assert.NotContains(t, msg, "v-1")
	assert.Equal(t, "That code is invalid or expired.", msg)
}

func TestConvertToBPMNError(t *testing.T) {
	bpmn := ConvertToBPMNError(NewQueryExecutionFailedError("orders.update", stderrors.New("boom")))
	assert.Equal(t, string(ErrCodeQueryExecutionFailed), bpmn.Code)
	assert.Equal(t, 3, bpmn.Retries)

	bpmn = ConvertToBPMNError(NewInvalidTransitionError("served", "paid"))
	assert.Equal(t, 0, bpmn.Retries)
	require.Contains(t, bpmn.ToErrorVariables(), "errorKind")
	assert.Equal(t, "state_conflict", bpmn.ToErrorVariables()["errorKind"])
}

func TestNormalize(t *testing.T) {
	stdErr := Normalize(stderrors.New("boom"))
	assert.Equal(t, ErrorCode("INTERNAL_ERROR"), stdErr.Code)

	stdErr = Normalize(context.DeadlineExceeded)
	assert.Equal(t, ErrCodeTransientInfra, stdErr.Code)
	assert.ErrorIs(t, stdErr, context.DeadlineExceeded)
}
