// Package harness runs scripted device sessions against a project.
//
// A scenario names a project config, tells the simulated device how to
// answer its endpoints and then drives a flow of calls and events through
// a real client over a websocket. Every frame that crosses the link is
// recorded, decoded, in a trace. Assertions run against the trace and
// tests compare it to golden files.
//
// # Scenario Format
//
//	name: level_roundtrip
//	description: "set_level is acknowledged and get_level reads it back"
//	config: ../project/fwrpc.yaml
//	device:
//	  firmware: "2.0.1"
//	  handlers:
//	    get_level:
//	      reply: { level: 5 }
//	    set_level:
//	      fault: 9
//	flow:
//	  - call: get_level
//	    expect:
//	      result: { level: 5 }
//	  - call: set_level
//	    args: { value: 3 }
//	    expect:
//	      fault: 9
//	  - emit: button_pressed
//	    args: { value: 2 }
//	  - send: button_pressed
//	    args: { value: 1 }
//	assertions:
//	  - type: trace_contains
//	    kind: event
//	    name: button_pressed
//	    data: { value: 2 }
//	  - type: trace_order
//	    names: [get_level, set_level, button_pressed]
//	  - type: trace_count
//	    name: get_level
//	    count: 2
//
// The config path is relative to the scenario file. Reserved endpoints
// answer from the registry; any other endpoint without a handler entry
// gets an unknown-handler fault.
//
// # Steps
//
//   - call: the client calls an endpoint and waits for the reply.
//   - emit: the device broadcasts an event and the step waits until the
//     client has received it.
//   - send: the client sends an event and the step waits until the device
//     has observed it.
//
// # Trace
//
// Calls record a "call" entry followed by "response" or "fault". Emits
// record "event" and sends record "peer_event". Seq numbers start at 1 and
// nothing in a trace depends on timing, so traces are stable enough for
// golden comparison:
//
//	go test ./internal/harness -update
package harness
