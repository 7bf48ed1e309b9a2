package memory

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/stepflow/store"
	"github.com/xraph/stepflow/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(_ *testing.T, clock *storetest.Clock) store.Store {
		return New(WithClock(clock.Now))
	})
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", s.Close},
	}
	for _, tt := range tests {
		if err := tt.fn(); err != nil {
			t.Errorf("%s: %v", tt.name, err)
		}
	}
}

func TestClockIsUTC(t *testing.T) {
	t.Parallel()

	clock := storetest.NewClock(storetest.Epoch.In(time.FixedZone("CET", 3600)))
	s := New(WithClock(clock.Now))
	if loc := s.clock().Location(); loc != time.UTC {
		t.Errorf("clock location = %v, want UTC", loc)
	}
}
