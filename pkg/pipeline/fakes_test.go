package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/z-wentao/jkid/pkg/models"
	"github.com/z-wentao/jkid/pkg/segmenter"
	"github.com/z-wentao/jkid/pkg/storage"
)

type fakeOCR struct {
	extract func(ctx context.Context, imageRef string, mode models.DetectionMode) (*models.OCRResult, error)
}

func (f *fakeOCR) ExtractText(ctx context.Context, imageRef string, mode models.DetectionMode) (*models.OCRResult, error) {
	return f.extract(ctx, imageRef, mode)
}

func ocrReturning(text string) *fakeOCR {
	return &fakeOCR{extract: func(context.Context, string, models.DetectionMode) (*models.OCRResult, error) {
		return &models.OCRResult{
			FullText:   text,
			TextBlocks: []models.TextBlock{{Text: text, Confidence: 0.98}},
			Language:   []models.DetectedLanguage{{LanguageCode: "ja", Confidence: 0.99}},
		}, nil
	}}
}

type fakeCleaner struct {
	clean func(ctx context.Context, raw string) (string, error)
}

func (f *fakeCleaner) Clean(ctx context.Context, raw string) (string, error) {
	return f.clean(ctx, raw)
}

func cleanerReturning(content string) *fakeCleaner {
	return &fakeCleaner{clean: func(context.Context, string) (string, error) { return content, nil }}
}

type fakeStructuredCleaner struct {
	fakeCleaner
	parsed *segmenter.ParsedText
}

func (f *fakeStructuredCleaner) CleanStructured(context.Context, string) (*segmenter.ParsedText, string, error) {
	return f.parsed, `{"json":true}`, nil
}

type fakeSpeech struct {
	mu     sync.Mutex
	failOn map[string]bool
	calls  []string
	voices []models.VoiceConfig
}

func (f *fakeSpeech) Synthesize(_ context.Context, text string, voice models.VoiceConfig) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	f.voices = append(f.voices, voice)
	if f.failOn[text] {
		return nil, errors.New("synthesis quota exceeded")
	}
	return []byte("mp3:" + text), nil
}

type memoryAudio struct {
	mu      sync.Mutex
	files   map[string][]byte
	failFor map[string]bool
}

func newMemoryAudio() *memoryAudio {
	return &memoryAudio{files: map[string][]byte{}, failFor: map[string]bool{}}
}

func (m *memoryAudio) WriteAudio(taskID, unit string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[unit] {
		return "", errors.New("disk full")
	}
	name := fmt.Sprintf("%s_%s.mp3", taskID, unit)
	m.files[name] = data
	return "/static/audio/" + name, nil
}

// recordingStore 记录每次 Update 之后的状态
type recordingStore struct {
	*storage.TaskStore
	mu       sync.Mutex
	statuses map[string][]models.TaskStatus
}

func newRecordingStore() *recordingStore {
	return &recordingStore{TaskStore: storage.NewTaskStore(), statuses: map[string][]models.TaskStatus{}}
}

func (s *recordingStore) Update(id string, u models.TaskUpdate) {
	s.TaskStore.Update(id, u)
	task, ok := s.TaskStore.Get(id)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.statuses[id]
	if len(hist) == 0 || hist[len(hist)-1] != task.Status {
		s.statuses[id] = append(hist, task.Status)
	}
}

func (s *recordingStore) history(id string) []models.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TaskStatus(nil), s.statuses[id]...)
}
