// Package hivemqtest ties HiveMQ containers to the lifecycle of Go tests.
//
// Run gives every test its own broker, started before the test body and
// stopped when the test ends:
//
//	func TestPublish(t *testing.T) {
//	    broker := hivemqtest.Run(t, hivemq.WithImage("hivemq/hivemq-ce", "latest"))
//	    client, err := broker.CreateClient("publisher")
//	    ...
//	}
//
// Shared and Main share one broker across a whole package:
//
//	var broker = hivemqtest.NewShared(hivemq.WithSilent(true))
//
//	func TestMain(m *testing.M) {
//	    os.Exit(hivemqtest.Main(m, broker))
//	}
//
//	func TestSomething(t *testing.T) {
//	    c := broker.Container(t)
//	    ...
//	}
//
// Tests are skipped when no Docker provider is reachable.
package hivemqtest
