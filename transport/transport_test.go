package transport

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/eventport/internal/runtime/errors"
)

func TestApplySendOptions(t *testing.T) {
	assert.Equal(t, SendOptions{}, ApplySendOptions())

	opts := ApplySendOptions(WithExchange("audit"), nil, WithQueue("audit-archive"))
	assert.Equal(t, SendOptions{ExchangeName: "audit", QueueName: "audit-archive"}, opts)
}

func TestDeliveryContext(t *testing.T) {
	_, ok := DeliveryFromContext(context.Background())
	assert.False(t, ok)

	want := Delivery{Adapter: "kafka", Topic: "orders", Partition: 2, Offset: 41}
	got, ok := DeliveryFromContext(WithDelivery(context.Background(), want))
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestTopicSpec(t *testing.T) {
	literal := Topic("orders.created")
	assert.False(t, literal.IsPattern())
	assert.Equal(t, "orders.created", literal.Literal())
	assert.Equal(t, "orders.created", literal.String())
	assert.True(t, literal.Matches("orders.created"))
	assert.False(t, literal.Matches("orders.created.v2"))

	pattern := MustPattern(`^orders\..*`)
	assert.True(t, pattern.IsPattern())
	assert.Empty(t, pattern.Literal())
	assert.Equal(t, `/^orders\..*/`, pattern.String())
	assert.True(t, pattern.Matches("orders.created"))
	assert.False(t, pattern.Matches("invoices.created"))

	compiled := PatternOf(regexp.MustCompile("x"))
	assert.NotNil(t, compiled.Regexp())
}

func TestPatternRejectsInvalidExpression(t *testing.T) {
	_, err := Pattern("(")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `topic pattern "("`)
	assert.Panics(t, func() { MustPattern("(") })
}

func TestSubscriptionValidate(t *testing.T) {
	tests := []struct {
		name string
		sub  Subscription
		want error
	}{
		{"literal", Subscribe(Topic("a")), nil},
		{"pattern only", Subscribe(MustPattern("a.*")), nil},
		{"empty", Subscription{}, errspkg.ErrNoTopics},
		{"empty literal", Subscribe(Topic("")), errspkg.ErrTopicRequired},
		{"zero spec", Subscription{Topics: []TopicSpec{{}}}, errspkg.ErrTopicRequired},
		{"negative prefetch", Subscription{Topics: Topics("a"), PrefetchCount: -1}, errspkg.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sub.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSubscriptionSplitsLiteralsAndPatterns(t *testing.T) {
	sub := Subscribe(Topic("orders.created"), MustPattern(`^orders\.`), Topic("orders.paid"), Topic("orders.created"))

	assert.Equal(t, []string{"orders.created", "orders.paid"}, sub.Literals())
	require.Len(t, sub.Patterns(), 1)
	assert.Equal(t, `/^orders\./`, sub.Patterns()[0].String())
}

func TestSubscriptionKeyIsOrderIndependent(t *testing.T) {
	a := Subscribe(Topic("b"), Topic("a"), MustPattern("c.*"))
	b := Subscribe(MustPattern("c.*"), Topic("a"), Topic("b"), Topic("a"))

	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "/c.*/,a,b", a.Key())
	assert.Equal(t, "[/c.*/,a,b]", a.String())
	assert.NotEqual(t, a.Key(), Subscribe(Topic("a")).Key())
}
