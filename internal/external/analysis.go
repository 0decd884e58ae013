package external

import "context"

// AnalysisResponse is the opaque, cacheable payload an analysis
// provider returns. Shape is intentionally loose (a raw entry list)
// since normalization is the engine's own concern, not the provider
// boundary's.
type AnalysisResponse struct {
	Entries []AnalysisEntry
}

// AnalysisEntry is one raw detection/transcription unit returned by a
// provider, prior to quality filtering and dedup-key computation.
type AnalysisEntry struct {
	Label      string
	Start      float64
	End        float64
	Confidence float64
	TrackID    string // non-empty only for spatial-tracking entries
	Text       string // non-empty only for speech-transcription entries
}

// AnalysisProvider is the boundary interface onto the external video
// intelligence / speech-to-text backends.
type AnalysisProvider interface {
	AnalyzeVideo(ctx context.Context, uri string, features []string) (AnalysisResponse, error)
	TranscribeAudio(ctx context.Context, uri string, languageCode string) (AnalysisResponse, error)
}

// FakeAnalysisProvider returns a fixed, seedable response per
// (uri, feature) pair so tests can exercise partial-success and
// quality-filter scenarios deterministically.
type FakeAnalysisProvider struct {
	VideoResponses map[string]AnalysisResponse // key: uri+"|"+feature
	SpeechResponse map[string]AnalysisResponse // key: uri
	Err            map[string]error            // key: uri+"|"+feature, or uri for speech
}

// NewFakeAnalysisProvider constructs an empty, seedable fake.
func NewFakeAnalysisProvider() *FakeAnalysisProvider {
	return &FakeAnalysisProvider{
		VideoResponses: make(map[string]AnalysisResponse),
		SpeechResponse: make(map[string]AnalysisResponse),
		Err:            make(map[string]error),
	}
}

func (f *FakeAnalysisProvider) AnalyzeVideo(_ context.Context, uri string, features []string) (AnalysisResponse, error) {
	var merged AnalysisResponse
	for _, feat := range features {
		key := uri + "|" + feat
		if err, ok := f.Err[key]; ok && err != nil {
			return AnalysisResponse{}, err
		}
		merged.Entries = append(merged.Entries, f.VideoResponses[key].Entries...)
	}
	return merged, nil
}

func (f *FakeAnalysisProvider) TranscribeAudio(_ context.Context, uri string, languageCode string) (AnalysisResponse, error) {
	if err, ok := f.Err[uri]; ok && err != nil {
		return AnalysisResponse{}, err
	}
	return f.SpeechResponse[uri], nil
}
