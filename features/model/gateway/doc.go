// Package gateway hosts a model.Client behind transport-agnostic handlers
// and reassembles one on the far side. Server composes middleware around
// unary and streaming completions for any RPC layer to expose; RemoteClient
// turns caller-supplied transport functions back into a model.Client.
package gateway
