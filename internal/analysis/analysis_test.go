package analysis

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeywordsOrderOfAppearance(t *testing.T) {
	t.Parallel()

	got := Keywords("My car was stolen in Lagos after an accident near the danfo park. Police made a report.")
	require.Equal(t, []string{"stolen", "lagos", "accident", "danfo", "police", "report"}, got)
}

func TestKeywordsMultiWordLocaleTerms(t *testing.T) {
	t.Parallel()

	got := Keywords("Area boys blocked the road in Port Harcourt")
	require.Equal(t, []string{"area boys", "port harcourt"}, got)
	require.Empty(t, Keywords("reported the harcourt port"))
}

func TestKeywordsCapsAtTen(t *testing.T) {
	t.Parallel()

	got := Keywords("accident crash collision damage broken stolen theft robbery burglary fire flood water")
	require.Len(t, got, MaxKeywords)
	require.Equal(t, "accident", got[0])
	require.Equal(t, "fire", got[9])
}

func TestKeywordsDeduplicates(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"fire"}, Keywords("fire FIRE fire!"))
}

func TestScoreLabels(t *testing.T) {
	t.Parallel()

	pos := Score(Words("thanks, the agent was quick and helpful"))
	require.Equal(t, LabelPositive, pos.Label)
	require.InDelta(t, 1.0, pos.Score, 1e-9)
	require.Equal(t, 3, pos.Positive)

	neg := Score(Words("terrible damage and I am in pain, good grief"))
	require.Equal(t, LabelNegative, neg.Label)
	require.InDelta(t, -0.5, neg.Score, 1e-9)

	mixed := Score(Words("good but slow"))
	require.Equal(t, LabelNeutral, mixed.Label)
	require.Zero(t, mixed.Score)

	empty := Score(nil)
	require.Equal(t, LabelNeutral, empty.Label)
	require.Zero(t, empty.Neutral)
}

func TestEmotionsHasEveryKey(t *testing.T) {
	t.Parallel()

	got := Emotions(Words("I was scared and then angry, so angry"))
	require.Equal(t, 2, got["anger"])
	require.Equal(t, 1, got["fear"])
	require.Len(t, got, 5)
	require.Zero(t, got["joy"])
}

func TestRecordingQuality(t *testing.T) {
	t.Parallel()

	require.Equal(t, QualityUnknown, RecordingQuality(nil))
	require.Equal(t, QualityPoor, RecordingQuality(make([]byte, 3200)))
	require.Equal(t, QualityGood, RecordingQuality(constant(16384, 1600)))
	require.Equal(t, QualityFair, RecordingQuality(constant(3000, 1600)))
}

func TestAnalyzeSpeakingRate(t *testing.T) {
	t.Parallel()

	report := Analyze("  there was a flood in Abuja  ", constant(16384, 160), 3)
	require.Equal(t, "there was a flood in Abuja", report.Transcript)
	require.Equal(t, 6, report.WordCount)
	require.InDelta(t, 120.0, report.SpeakingRate, 1e-9)
	require.Equal(t, []string{"flood", "abuja"}, report.Keywords)
	require.Equal(t, QualityGood, report.Quality)

	require.Zero(t, Analyze("hello", nil, 0).SpeakingRate)
}

func TestAnalyzeWithCustomScorer(t *testing.T) {
	t.Parallel()

	fixed := ScorerFunc(func(words []string) Sentiment {
		return Sentiment{Score: 0.9, Label: LabelPositive, Neutral: len(words)}
	})
	report := AnalyzeWith(fixed, "my car was stolen", nil, 2)
	require.Equal(t, LabelPositive, report.Sentiment.Label)
	require.Equal(t, 4, report.Sentiment.Neutral)

	require.Equal(t, Analyze("my car was stolen", nil, 2), AnalyzeWith(nil, "my car was stolen", nil, 2))
}

func constant(v int16, samples int) []byte {
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}
