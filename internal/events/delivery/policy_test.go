package delivery

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		err     error
		attempt int
		max     int
		want    Decision
	}{
		{"success", nil, 1, 5, Ack},
		{"success on last attempt", nil, 5, 5, Ack},
		{"transient first attempt", boom, 1, 5, Requeue},
		{"transient before max", boom, 4, 5, Requeue},
		{"transient at max", boom, 5, 5, DeadLetter},
		{"permanent first attempt", Permanent(boom), 1, 5, DeadLetter},
		{"wrapped permanent", fmt.Errorf("handle: %w", Permanent(boom)), 1, 5, DeadLetter},
		{"zero max uses default", boom, DefaultMaxDeliveries, 0, DeadLetter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Decide(tt.err, tt.attempt, tt.max))
		})
	}
}

func TestPermanent(t *testing.T) {
	boom := errors.New("boom")
	require.Nil(t, Permanent(nil))
	require.False(t, IsPermanent(boom))
	require.True(t, IsPermanent(Permanent(boom)))
	require.ErrorIs(t, Permanent(boom), boom)
	require.Equal(t, "boom", Permanent(boom).Error())
}

func TestAttemptHeader(t *testing.T) {
	require.Equal(t, 1, ParseAttempt(""))
	require.Equal(t, 1, ParseAttempt("x"))
	require.Equal(t, 1, ParseAttempt("0"))
	require.Equal(t, 3, ParseAttempt(FormatAttempt(3)))
	require.Equal(t, "ledger-entry-created.dead-letter", DeadLetterTopic("ledger-entry-created"))
}
