// Package broker implements the core of an AMQP 0-9-1 message broker:
// a TCP server that multiplexes connections into channels, routes
// published messages through typed exchanges to queues via bindings,
// and delivers them to consumers under prefetch and acknowledgement
// rules.
//
// # Overview
//
// The package is organized around four subsystems:
//
//   - a wire codec (frame.go, fieldtable.go, methods.go) that turns a
//     byte stream into typed frames and back,
//   - connection and channel state machines (connection.go, channel.go),
//   - a routing and delivery engine (router.go, delivery.go), and
//   - a durable recovery layer (see the persistence subpackage).
//
// The Broker type owns the entity graph (exchanges, queues, bindings,
// consumers) exclusively; every mutation is serialized by a single
// broker-wide mutex that the per-connection goroutines take around
// each entity-graph change.
//
// # Basic usage
//
//	b := broker.New(broker.Config{ListenAddr: "0.0.0.0:5672"}, broker.WithStore(store))
//	if err := b.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer b.Stop(ctx)
//
// # Dependencies
//
// This package depends on github.com/google/uuid for generated names,
// ids and consumer tags; the persistence subpackage uses
// github.com/sony/gobreaker to guard its durable writer against a
// wedged disk. It intentionally does not
// depend on an AMQP client library — the wire codec is the thing being
// built here, not a layer on top of one.
package broker
