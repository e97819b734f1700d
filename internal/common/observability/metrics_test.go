package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoopRecordsNothing(t *testing.T) {
	ctx := context.Background()
	for name, o := range map[string]*Observability{"noop": Noop(), "nil": nil} {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				o.RecordJob(ctx, "deliver-notifications", "completed", time.Second)
				o.RecordDeliveryBatch(ctx, 3)
				o.RecordDelivery(ctx, "template", "sent")
				o.Shutdown()
			})
		})
	}
}
