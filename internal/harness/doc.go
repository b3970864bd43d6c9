// Package harness runs scripted scenarios against the registry and ledger
// and records a deterministic trace for golden comparison.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	declare:
//	  - owner: ORION
//	    name: origin
//	    value: "Genesis10000+"
//	steps:
//	  - op: evolve
//	    entity: e1
//	    metric: 0.1
//	    payload: { a: 1 }
//	  - op: evolve
//	    entity: e1
//	    metric: 0.05
//	    expect: { error: regression }
//	  - op: verify
//	    entity: e1
//	    expect: { chain_ok: true, monotonic_ok: true }
//	assertions:
//	  - type: history_length
//	    entity: e1
//	    count: 1
//
// # Operations
//
//   - declare, lookup: registry calls
//   - open, open_typed, evolve, verify: ledger calls
//   - tamper: rewrites one field of a stored record out-of-band
//   - reload: round-trips all state through an in-memory SQLite store
//
// # Assertion Types
//
//   - history_length: entity has exactly count records
//   - head: entity head digest equals digest
//   - metrics_nondecreasing: entity metrics never decrease
//   - declarations: registry (or owner) has exactly count declarations
//   - entities: ledger has exactly count entities
//   - trace_count: op (optionally failing with error) appears count times
//
// # Deterministic Testing
//
// Record timestamps come from testutil.DeterministicClock and never enter a
// digest, so identical scenarios always produce identical traces.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/e1.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
