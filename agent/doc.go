// Package agent turns a query plus retrieved memory context into a
// persona-styled response with a confidence score.
//
// Agents are plain configuration values (types.AgentConfig), not subtypes:
// every agent goes through the same Generator, and the persona only shapes
// the prompt. Text generation is pluggable behind GenerationProvider, with a
// deterministic template engine as the offline default and an HTTP
// chat-completions provider for real LLM backends.
package agent
