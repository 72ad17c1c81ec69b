// Package analysis derives claim signals from a transcript and its audio.
package analysis

import (
	"encoding/binary"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/sorosurance/soro/internal/pcm"
)

// MaxKeywords caps the keyword list returned by Keywords.
const MaxKeywords = 10

// Label is a coarse sentiment classification.
type Label string

const (
	LabelPositive Label = "positive"
	LabelNeutral  Label = "neutral"
	LabelNegative Label = "negative"
)

// Quality grades a recording from its loudness and noise floor.
type Quality string

const (
	QualityGood    Quality = "good"
	QualityFair    Quality = "fair"
	QualityPoor    Quality = "poor"
	QualityUnknown Quality = "unknown"
)

// Sentiment is the lexicon score for one transcript.
type Sentiment struct {
	Score    float64
	Label    Label
	Positive int
	Negative int
	Neutral  int
}

// Report bundles every signal computed for one recording.
type Report struct {
	Transcript      string
	Keywords        []string
	Sentiment       Sentiment
	Emotions        map[string]int
	WordCount       int
	SpeakingRate    float64
	DurationSeconds float64
	Quality         Quality
	LevelDBFS       float64
}

// Scorer produces the sentiment of tokenized transcript words.
type Scorer interface {
	Score(words []string) Sentiment
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(words []string) Sentiment

func (f ScorerFunc) Score(words []string) Sentiment {
	return f(words)
}

// KeywordScorer is the lexicon scorer used when none is supplied.
var KeywordScorer Scorer = ScorerFunc(Score)

// Analyze scores transcript text against audio of the given duration.
func Analyze(transcript string, audio []byte, durationSeconds float64) Report {
	return AnalyzeWith(KeywordScorer, transcript, audio, durationSeconds)
}

// AnalyzeWith is Analyze with a caller-supplied sentiment scorer.
func AnalyzeWith(scorer Scorer, transcript string, audio []byte, durationSeconds float64) Report {
	if scorer == nil {
		scorer = KeywordScorer
	}
	words := Words(transcript)
	report := Report{
		Transcript:      strings.TrimSpace(transcript),
		Keywords:        Keywords(transcript),
		Sentiment:       scorer.Score(words),
		Emotions:        Emotions(words),
		WordCount:       len(words),
		DurationSeconds: durationSeconds,
		Quality:         RecordingQuality(audio),
		LevelDBFS:       pcm.LevelDBFS(audio),
	}
	if durationSeconds > 0 {
		report.SpeakingRate = float64(len(words)) / durationSeconds * 60
	}
	return report
}

// Words lowercases text and splits it on whitespace, trimming edge punctuation.
func Words(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	words := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if f != "" {
			words = append(words, f)
		}
	}
	return words
}

var insuranceTerms = setOf(
	"accident", "crash", "collision", "damage", "broken", "stolen",
	"theft", "robbery", "burglary", "fire", "flood", "water",
	"hospital", "doctor", "sick", "illness", "injury", "pain",
	"emergency", "urgent", "immediate", "serious", "severe",
	"witness", "police", "report", "case", "investigation",
	"repair", "replace", "cost", "expensive", "value", "money",
)

var localeTerms = []string{
	"naija", "lagos", "abuja", "port harcourt", "kano",
	"okada", "keke", "danfo", "molue", "boda boda",
	"area boys", "lastma", "frsc", "efcc", "ndlea",
}

// Keywords returns insurance and locale terms in order of first appearance.
func Keywords(text string) []string {
	words := Words(text)
	joined := " " + strings.Join(words, " ") + " "

	type hit struct {
		term string
		pos  int
	}
	var hits []hit
	seen := make(map[string]bool)

	offset := 1
	for _, w := range words {
		if insuranceTerms[w] && !seen[w] {
			seen[w] = true
			hits = append(hits, hit{term: w, pos: offset})
		}
		offset += len(w) + 1
	}
	for _, term := range localeTerms {
		if seen[term] {
			continue
		}
		if idx := strings.Index(joined, " "+term+" "); idx >= 0 {
			seen[term] = true
			hits = append(hits, hit{term: term, pos: idx + 1})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	if len(hits) > MaxKeywords {
		hits = hits[:MaxKeywords]
	}
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.term)
	}
	return out
}

var (
	positiveTerms = setOf("good", "great", "excellent", "happy", "satisfied",
		"thank", "thanks", "helpful", "quick", "fast")
	negativeTerms = setOf("bad", "terrible", "awful", "angry", "frustrated",
		"slow", "late", "problem", "issue", "complaint",
		"pain", "hurt", "damage", "lost", "stolen")
)

// Score labels words as positive above 0.3, negative below -0.3, else neutral.
func Score(words []string) Sentiment {
	var s Sentiment
	for _, w := range words {
		switch {
		case positiveTerms[w]:
			s.Positive++
		case negativeTerms[w]:
			s.Negative++
		}
	}
	s.Neutral = len(words) - s.Positive - s.Negative

	if total := s.Positive + s.Negative; total > 0 {
		s.Score = float64(s.Positive-s.Negative) / float64(total)
	}
	s.Score = math.Max(-1, math.Min(1, s.Score))

	switch {
	case s.Score > 0.3:
		s.Label = LabelPositive
	case s.Score < -0.3:
		s.Label = LabelNegative
	default:
		s.Label = LabelNeutral
	}
	return s
}

var emotionTerms = map[string]map[string]bool{
	"anger":    setOf("angry", "mad", "furious", "rage", "annoyed"),
	"fear":     setOf("scared", "afraid", "frightened", "terrified", "panic"),
	"sadness":  setOf("sad", "unhappy", "depressed", "cry", "tears"),
	"joy":      setOf("happy", "joy", "delighted", "pleased", "excited"),
	"surprise": setOf("surprised", "shocked", "amazed", "astonished"),
}

// Emotions counts emotion vocabulary hits; every emotion key is present.
func Emotions(words []string) map[string]int {
	out := make(map[string]int, len(emotionTerms))
	for emotion, terms := range emotionTerms {
		count := 0
		for _, w := range words {
			if terms[w] {
				count++
			}
		}
		out[emotion] = count
	}
	return out
}

const noiseWindow = 1000

// RecordingQuality grades s16le audio from overall dBFS and the
// standard deviation of the leading samples.
func RecordingQuality(audio []byte) Quality {
	samples := len(audio) / 2
	if samples == 0 {
		return QualityUnknown
	}
	level := pcm.LevelDBFS(audio)

	n := min(samples, noiseWindow)
	var sum, sumSq float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(audio[i*2:])))
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(n)
	noise := math.Sqrt(math.Max(0, sumSq/float64(n)-mean*mean))

	switch {
	case level > -20 && noise < 1000:
		return QualityGood
	case level > -30 && noise < 5000:
		return QualityFair
	default:
		return QualityPoor
	}
}

func setOf(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
