package session

// Artifact is the finalized, immutable recording of one session.
type Artifact struct {
	data            []byte
	chunks          int
	durationSeconds int
}

func newArtifact(chunks [][]byte, durationSeconds int) *Artifact {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	data := make([]byte, 0, total)
	for _, c := range chunks {
		data = append(data, c...)
	}
	return &Artifact{data: data, chunks: len(chunks), durationSeconds: durationSeconds}
}

// Bytes returns a copy of the recorded audio.
func (a *Artifact) Bytes() []byte {
	if a == nil {
		return nil
	}
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out
}

func (a *Artifact) Len() int {
	if a == nil {
		return 0
	}
	return len(a.data)
}

func (a *Artifact) ChunkCount() int {
	if a == nil {
		return 0
	}
	return a.chunks
}

func (a *Artifact) DurationSeconds() int {
	if a == nil {
		return 0
	}
	return a.durationSeconds
}
