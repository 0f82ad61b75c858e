// Package backend defines the polymorphic text-generation contract and the
// factory registry that binds backend identifiers to constructors. Each
// variant (openai, anthropic, google, huggingface, minimax, local) lives in
// its own subpackage and exposes exactly this contract; provider-specific
// framing, authentication and token accounting never leak out of a variant.
//
// Streaming follows the single-producer-channel model: GenerateStream starts
// one producer goroutine that writes chunks to a channel and closes it on
// completion or cancellation. Consumers read until closure and watch the
// error channel for out-of-band failures.
package backend
