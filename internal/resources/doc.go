// Package resources declares the observable resource kinds and indexes the
// informers running for them.
//
// A Factory pairs a resource kind with two optional capabilities: the
// permission chain that must be satisfied before the kind is observed, and a
// constructor for an Informer that watches it. Factories are immutable and
// are collected in a FactoryRegistry that is built once and passed to the
// context manager.
//
// The InformerRegistry is an index from context name to resource kind to
// Informer. It never starts or stops informers itself.
package resources
