// Package pipeline declares the stage contracts the workflow engine composes
// and the values that flow between them.
//
// Collaborators (the inbox source, the transformer, the transmitter and the
// notifier) implement these interfaces; the engine only depends on their
// result shapes.
package pipeline
