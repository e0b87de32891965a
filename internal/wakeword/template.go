package wakeword

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// FeatureBands is the number of spectral bands per analysis frame
	FeatureBands = 16
	// TemplateFrames is the fixed trajectory length templates are
	// normalized to, so windows of different durations stay comparable
	TemplateFrames = 32

	// frameDuration is the analysis frame length
	frameDuration = 32 * time.Millisecond

	// bandLow and bandHigh bound the log-spaced band center frequencies
	bandLow  = 100.0
	bandHigh = 7000.0

	// DefaultThreshold is the match score new templates start with
	DefaultThreshold = 0.6
)

// Template is a trained acoustic fingerprint of one wake phrase: a
// fixed-length trajectory of log band energies averaged over the
// training takes.
type Template struct {
	Name       string      `json:"name"`
	Threshold  float64     `json:"threshold"`
	SampleRate int         `json:"sample_rate"`
	Features   [][]float64 `json:"features"` // TemplateFrames x FeatureBands
}

// Candidate tracks the match history of one template
type Candidate struct {
	Score    float64 `json:"score"`     // most recent window score
	AvgScore float64 `json:"avg_score"` // running average over all windows
	Hits     uint64  `json:"hits"`      // consecutive windows at or above the threshold
	Windows  uint64  `json:"windows"`   // windows scored
}

// bandFrequencies are the log-spaced Goertzel probe frequencies
var bandFrequencies = buildBandFrequencies()

func buildBandFrequencies() []float64 {
	freqs := make([]float64, FeatureBands)
	ratio := bandHigh / bandLow
	for i := range freqs {
		freqs[i] = bandLow * math.Pow(ratio, float64(i)/float64(FeatureBands-1))
	}
	return freqs
}

// bandEnergy returns the Goertzel power of freq in one frame
func bandEnergy(frame []float32, freq float64, sampleRate int) float64 {
	if len(frame) == 0 {
		return 0
	}

	w := 2 * math.Pi * freq / float64(sampleRate)
	coeff := 2 * math.Cos(w)

	var s0, s1, s2 float64
	for _, x := range frame {
		s0 = float64(x) + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}

	power := s1*s1 + s2*s2 - coeff*s1*s2
	return power / float64(len(frame))
}

// ExtractTrajectory converts samples into a TemplateFrames x FeatureBands
// trajectory of log band energies, time-normalized so phrases spoken at
// different speeds remain comparable. Returns nil when the audio is
// shorter than two analysis frames.
func ExtractTrajectory(samples []float32, sampleRate int) [][]float64 {
	frameLen := int(float64(sampleRate) * frameDuration.Seconds())
	if frameLen <= 0 || len(samples) < 2*frameLen {
		return nil
	}

	numFrames := len(samples) / frameLen
	frames := make([][]float64, numFrames)
	for i := 0; i < numFrames; i++ {
		frame := samples[i*frameLen : (i+1)*frameLen]
		bands := make([]float64, FeatureBands)
		for b, freq := range bandFrequencies {
			bands[b] = math.Log1p(bandEnergy(frame, freq, sampleRate))
		}
		frames[i] = bands
	}

	return resampleFrames(frames, TemplateFrames)
}

// resampleFrames linearly interpolates a frame sequence to the target length
func resampleFrames(frames [][]float64, target int) [][]float64 {
	out := make([][]float64, target)
	n := len(frames)

	for i := 0; i < target; i++ {
		pos := float64(i) * float64(n-1) / float64(target-1)
		lo := int(pos)
		hi := lo + 1
		if hi >= n {
			hi = n - 1
		}
		frac := pos - float64(lo)

		bands := make([]float64, FeatureBands)
		for b := 0; b < FeatureBands; b++ {
			bands[b] = frames[lo][b]*(1-frac) + frames[hi][b]*frac
		}
		out[i] = bands
	}

	return out
}

// trajectorySimilarity returns the cosine similarity of two trajectories
// after removing each one's mean energy, so absolute loudness does not
// dominate the score
func trajectorySimilarity(a, b [][]float64) float64 {
	fa := flatten(a)
	fb := flatten(b)
	if len(fa) != len(fb) || len(fa) == 0 {
		return 0
	}

	demean(fa)
	demean(fb)

	var dot, na, nb float64
	for i := range fa {
		dot += fa[i] * fb[i]
		na += fa[i] * fa[i]
		nb += fb[i] * fb[i]
	}

	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func flatten(frames [][]float64) []float64 {
	out := make([]float64, 0, len(frames)*FeatureBands)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

func demean(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	mean := sum / float64(len(v))
	for i := range v {
		v[i] -= mean
	}
}

// BuildTemplate averages the trajectories of the training takes into one
// template. Takes too short to yield a trajectory are skipped; at least
// one usable take is required.
func BuildTemplate(name string, takes [][]float32, sampleRate int, threshold float64) (*Template, error) {
	if name == "" {
		return nil, fmt.Errorf("template name cannot be empty")
	}

	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	sum := make([][]float64, TemplateFrames)
	for i := range sum {
		sum[i] = make([]float64, FeatureBands)
	}

	used := 0
	for _, take := range takes {
		traj := ExtractTrajectory(take, sampleRate)
		if traj == nil {
			continue
		}
		for i := range traj {
			for b := range traj[i] {
				sum[i][b] += traj[i][b]
			}
		}
		used++
	}

	if used == 0 {
		return nil, fmt.Errorf("no take was long enough to extract features")
	}

	for i := range sum {
		for b := range sum[i] {
			sum[i][b] /= float64(used)
		}
	}

	return &Template{
		Name:       name,
		Threshold:  threshold,
		SampleRate: sampleRate,
		Features:   sum,
	}, nil
}

// Save writes the template as JSON to path
func (t *Template) Save(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal template %s: %w", t.Name, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write template file %s: %w", path, err)
	}

	return nil
}

// LoadTemplate reads one template file
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file %s: %w", path, err)
	}

	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse template file %s: %w", path, err)
	}

	if t.Name == "" {
		return nil, fmt.Errorf("template file %s has no name", path)
	}

	if len(t.Features) != TemplateFrames {
		return nil, fmt.Errorf("template file %s has %d frames, expected %d",
			path, len(t.Features), TemplateFrames)
	}

	return &t, nil
}

// LoadTemplates reads every .json template in dir
func LoadTemplates(dir string) ([]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates dir %s: %w", dir, err)
	}

	var templates []*Template
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		t, err := LoadTemplate(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}

	return templates, nil
}

// TemplateMatcher matches windows against trained acoustic templates and
// keeps per-template candidate statistics across windows
type TemplateMatcher struct {
	templates  []*Template
	candidates map[string]*Candidate
	logger     *slog.Logger

	mu sync.Mutex
}

// NewTemplateMatcher creates a matcher over the given templates
func NewTemplateMatcher(templates []*Template, logger *slog.Logger) (*TemplateMatcher, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("templates cannot be empty")
	}

	candidates := make(map[string]*Candidate, len(templates))
	for _, t := range templates {
		candidates[t.Name] = &Candidate{}
	}

	return &TemplateMatcher{
		templates:  templates,
		candidates: candidates,
		logger:     logger,
	}, nil
}

// Match scores the window against every template and reports the best
// template whose score crossed its threshold
func (m *TemplateMatcher) Match(samples []float32) (string, bool, error) {
	if len(m.templates) == 0 {
		return "", false, nil
	}

	traj := ExtractTrajectory(samples, m.templates[0].SampleRate)
	if traj == nil {
		return "", false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bestName := ""
	bestScore := 0.0

	for _, t := range m.templates {
		score := trajectorySimilarity(traj, t.Features)

		c := m.candidates[t.Name]
		c.Windows++
		c.Score = score
		c.AvgScore += (score - c.AvgScore) / float64(c.Windows)

		if score >= t.Threshold {
			c.Hits++
			if score > bestScore {
				bestScore = score
				bestName = t.Name
			}
		} else {
			// A miss breaks the streak.
			c.Hits = 0
		}
	}

	if bestName == "" {
		return "", false, nil
	}

	m.logger.Debug("Template matched",
		slog.String("template", bestName),
		slog.Float64("score", bestScore))

	return bestName, true, nil
}

// Candidates returns a snapshot of per-template match statistics
func (m *TemplateMatcher) Candidates() map[string]Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Candidate, len(m.candidates))
	for name, c := range m.candidates {
		out[name] = *c
	}
	return out
}
