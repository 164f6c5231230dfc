package registry

import "modelrelay/internal/core"

// builtinModels is the default model table. Gemini-family models are owned
// by the gemini vendor; the Vertex and OpenRouter adapters declare whether
// they can also serve them. Limits follow the published vendor docs.
var builtinModels = []core.ModelDescriptor{
	{
		ID:                      "gemini-2.5-pro",
		Vendor:                  core.VendorGemini,
		MaxInputTokens:          1048576,
		MaxOutputTokens:         65536,
		SupportsThinking:        true,
		SupportsVision:          true,
		SupportsAudio:           true,
		SupportsFunctionCalling: true,
	},
	{
		ID:                      "gemini-2.5-flash",
		Vendor:                  core.VendorGemini,
		MaxInputTokens:          1048576,
		MaxOutputTokens:         65536,
		SupportsThinking:        true,
		SupportsVision:          true,
		SupportsAudio:           true,
		SupportsFunctionCalling: true,
	},
	{
		ID:                      "gemini-2.5-flash-lite",
		Vendor:                  core.VendorGemini,
		MaxInputTokens:          1048576,
		MaxOutputTokens:         65536,
		SupportsThinking:        true,
		SupportsVision:          true,
		SupportsAudio:           true,
		SupportsFunctionCalling: true,
	},
	{
		ID:                      "gemini-2.0-flash",
		Vendor:                  core.VendorGemini,
		MaxInputTokens:          1048576,
		MaxOutputTokens:         8192,
		SupportsVision:          true,
		SupportsAudio:           true,
		SupportsFunctionCalling: true,
	},
	{
		ID:              "gemini-2.0-flash-lite",
		Vendor:          core.VendorGemini,
		MaxInputTokens:  1048576,
		MaxOutputTokens: 8192,
		SupportsVision:  true,
	},
	{
		ID:                      "anthropic/claude-sonnet-4",
		Vendor:                  core.VendorOpenRouter,
		MaxInputTokens:          200000,
		MaxOutputTokens:         64000,
		SupportsThinking:        true,
		SupportsVision:          true,
		SupportsFunctionCalling: true,
	},
	{
		ID:                      "openai/gpt-4o",
		Vendor:                  core.VendorOpenRouter,
		MaxInputTokens:          128000,
		MaxOutputTokens:         16384,
		SupportsVision:          true,
		SupportsAudio:           true,
		SupportsFunctionCalling: true,
	},
	{
		ID:                      "meta-llama/llama-3.3-70b-instruct",
		Vendor:                  core.VendorOpenRouter,
		MaxInputTokens:          131072,
		MaxOutputTokens:         16384,
		SupportsFunctionCalling: true,
	},
	{
		ID:               "deepseek/deepseek-r1",
		Vendor:           core.VendorOpenRouter,
		MaxInputTokens:   163840,
		MaxOutputTokens:  32768,
		SupportsThinking: true,
	},
}
