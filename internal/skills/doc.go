// Package skills provides the named skill bundles an agent enables from its
// configuration.
//
// A skill contributes protocol handlers and behaviours to one agent. The
// runtime ships two:
//
//   - echo: answers default-protocol bytes messages with the same content,
//     optionally prefixed.
//   - balance_watch: queries a ledger connection for an account balance on a
//     fixed interval and keeps the latest answer.
//
// Skills are looked up by name in a Registry; Builtin returns one holding the
// shipped skills, and callers may register their own factories.
package skills
