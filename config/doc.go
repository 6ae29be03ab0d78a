// Package config implements the flat, prefix-routed configuration surface
// of the pipeline.
//
// One flat Options mapping drives every stage. Keys are named
// "<stage-prefix>.<option-name>"; Route extracts the subset for one stage
// without consuming keys addressed to other stages, and each stage's
// configuration constructor rejects unknown option names eagerly, before
// any record is processed.
//
// Options can be assembled programmatically, loaded from a YAML file
// (nested sections are flattened into prefixed keys), or overridden from
// POLLENFLOW_-prefixed environment variables.
package config
