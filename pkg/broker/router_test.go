package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicMatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		key     string
		pattern string
		want    bool
	}{
		{"exact literal match", "usa.news", "usa.news", true},
		{"literal mismatch", "usa.news", "usa.weather", false},
		{"star matches one word", "usa.news", "usa.*", true},
		{"star does not match two words", "usa.news.sport", "usa.*", false},
		{"hash matches zero words", "usa", "usa.#", true},
		{"hash matches many words", "usa.news.sport.live", "usa.#", true},
		{"hash in the middle", "usa.news.sport", "usa.#.sport", true},
		{"leading hash", "news.sport", "#.sport", true},
		{"hash alone matches everything", "any.thing.at.all", "#", true},
		{"star and hash combined", "usa.news.sport", "*.#", true},
		{"empty key against star fails", "", "*", false},
		{"empty key against hash matches", "", "#", true},
		{"trailing literal required", "usa.news", "usa.news.extra", false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := topicMatch(splitWords(tc.key), splitWords(tc.pattern))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRouteDirectExchange(t *testing.T) {
	t.Parallel()

	ex := &Exchange{Name: "direct-ex", Type: ExchangeDirect}
	bindings := []Binding{
		{Source: "direct-ex", Destination: "q1", RoutingKey: "orders"},
		{Source: "direct-ex", Destination: "q2", RoutingKey: "payments"},
		{Source: "direct-ex", Destination: "q3", RoutingKey: "orders"},
	}

	dests := route(ex, bindings, "orders")
	assert.ElementsMatch(t, []string{"q1", "q3"}, dests)

	assert.Empty(t, route(ex, bindings, "shipments"))
}

func TestRouteFanoutExchange(t *testing.T) {
	t.Parallel()

	ex := &Exchange{Name: "fanout-ex", Type: ExchangeFanout}
	bindings := []Binding{
		{Source: "fanout-ex", Destination: "q1", RoutingKey: "ignored"},
		{Source: "fanout-ex", Destination: "q2", RoutingKey: ""},
	}

	dests := route(ex, bindings, "whatever")
	assert.ElementsMatch(t, []string{"q1", "q2"}, dests)
}

func TestRouteTopicExchange(t *testing.T) {
	t.Parallel()

	ex := &Exchange{Name: "topic-ex", Type: ExchangeTopic}
	bindings := []Binding{
		{Source: "topic-ex", Destination: "q1", RoutingKey: "usa.#"},
		{Source: "topic-ex", Destination: "q2", RoutingKey: "*.news"},
		{Source: "topic-ex", Destination: "q3", RoutingKey: "europe.#"},
	}

	dests := route(ex, bindings, "usa.news")
	assert.ElementsMatch(t, []string{"q1", "q2"}, dests)
}

func TestRouteHeadersExchangeNeverMatches(t *testing.T) {
	t.Parallel()

	ex := &Exchange{Name: "headers-ex", Type: ExchangeHeaders}
	bindings := []Binding{
		{Source: "headers-ex", Destination: "q1", RoutingKey: ""},
	}

	assert.Empty(t, route(ex, bindings, "anything"))
}

func TestRouteDeduplicatesDestinations(t *testing.T) {
	t.Parallel()

	ex := &Exchange{Name: "fanout-ex", Type: ExchangeFanout}
	bindings := []Binding{
		{Source: "fanout-ex", Destination: "q1"},
		{Source: "fanout-ex", Destination: "q1"},
	}

	dests := route(ex, bindings, "rk")
	assert.Equal(t, []string{"q1"}, dests)
}
