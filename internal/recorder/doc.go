// Package recorder implements the capture-and-upload controller.
//
// A Controller owns one capture device and moves through
//
//	Idle -> Recording -> Finalizing -> Uploading -> Done | Failed
//
// Fragments delivered by the device are accumulated in arrival order. When
// the device reports it has finalized, the fragments are concatenated into
// one payload, stored as a local artifact and uploaded with the current
// bearer credential. The outcome (transcript or error message) is kept for
// display until the next Start or Reset.
//
// Observers registered with Subscribe receive a Snapshot after every state
// transition and every elapsed-time tick.
package recorder
