// Package wasmcheck is a test-only round trip validator for the bytes
// internal/codegen emits: it hands them to a real Wasm engine's module
// parser. The module is only parsed and type checked, never instantiated,
// so tests don't need to fake every "env" host import codegen declares.
package wasmcheck

import (
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// Validate parses and validates moduleBytes as a Wasm binary module,
// returning a descriptive error if the engine rejects it (malformed
// section, bad opcode, a type mismatch, ...).
func Validate(moduleBytes []byte) error {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	if _, err := wasmer.NewModule(store, moduleBytes); err != nil {
		return fmt.Errorf("wasmcheck: module rejected: %w", err)
	}
	return nil
}
