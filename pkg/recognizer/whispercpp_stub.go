//go:build !whispercpp

package recognizer

// Chunk model stub for builds without the 'whispercpp' tag. The engine
// registers but always probes unavailable.

func chunkModelAvailable() bool { return false }

func newChunkModel(cfg Config) (ChunkModel, error) {
	return nil, &Error{
		Code:    ErrCodeEngineUnavailable,
		Message: "whisper.cpp support is not enabled; rebuild with '-tags whispercpp'",
	}
}
