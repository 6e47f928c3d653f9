package infrastructure

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	exchangeKey = "exchange"
	queueKey    = "queue"
	methodKey   = "method"
	resultKey   = "result"
)

func ExchangeAttr(name string) attribute.KeyValue {
	return attribute.String(exchangeKey, name)
}

func QueueAttr(name string) attribute.KeyValue {
	return attribute.String(queueKey, name)
}

func MethodAttr(name string) attribute.KeyValue {
	return attribute.String(methodKey, name)
}

func ResultAttr(result string) attribute.KeyValue {
	return attribute.String(resultKey, result)
}
