package recognizer

// RegisterBuiltinEngines installs the three shipped back-ends into the
// registry. Call once at startup, before any session is created.
func RegisterBuiltinEngines() {
	Register(EngineWhisper, newChunkedFromConfig, chunkModelAvailable)
	Register(EngineKaldiStreaming, newStreamingFromConfig, streamingDecoderAvailable)
	Register(EngineCloudHTTP, newCloudFromConfig, cloudAvailable)
}
