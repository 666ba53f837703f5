// Package models defines the core domain models for jobsettle.
//
// # Models
//
//   - Account: holds a balance; plays the paying or earning role in an agreement
//   - Agreement: binds one paying and one earning account, with a lifecycle status
//   - WorkUnit: a billable item under an agreement, with a price and paid state
//   - Receipt: the confirmation returned by a successful settlement
//
// # Design Principles
//
//  1. **Fixed-point money**: amounts are decimal.Decimal, never float64
//  2. **Avoid circular references**: relationships are ID strings; the only
//     embedded pointer is WorkUnit.Agreement, populated by eager reads
//  3. **Monotonic state**: agreements only move active → terminated and work
//     units only move unpaid → paid
//  4. **Versioned rows**: Agreement and WorkUnit carry a Version used by
//     conditional updates
package models
