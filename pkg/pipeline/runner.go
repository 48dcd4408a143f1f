package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/z-wentao/jkid/pkg/models"
	"github.com/z-wentao/jkid/pkg/segmenter"
)

// NoteCleanupUnavailable 未配置文本清洗时写入 ProcessedText.Note
const NoteCleanupUnavailable = "文本处理模块未初始化，直接使用 OCR 原文"

// Options Runner 参数
type Options struct {
	SentencesPerSegment int
	DetectionMode       models.DetectionMode
	Voice               models.VoiceConfig
	OCRTimeout          time.Duration
	CleanupTimeout      time.Duration
	SpeechTimeout       time.Duration
	// SpeechConcurrency 同一任务内并发合成的单元数
	SpeechConcurrency int
}

func (o *Options) withDefaults() {
	if o.SentencesPerSegment <= 0 {
		o.SentencesPerSegment = segmenter.DefaultSentencesPerSegment
	}
	if o.DetectionMode == "" {
		o.DetectionMode = models.DetectDocumentText
	}
	if o.Voice.LanguageCode == "" {
		o.Voice = models.DefaultVoice()
	}
	if o.OCRTimeout <= 0 {
		o.OCRTimeout = 30 * time.Second
	}
	if o.CleanupTimeout <= 0 {
		o.CleanupTimeout = 30 * time.Second
	}
	if o.SpeechTimeout <= 0 {
		o.SpeechTimeout = 30 * time.Second
	}
	if o.SpeechConcurrency <= 0 {
		o.SpeechConcurrency = 1
	}
}

// Deps 外部能力，任何一项都可以为 nil
type Deps struct {
	OCR     OCRProvider
	Cleaner TextCleaner
	Speech  Synthesizer
	Audio   AudioWriter
}

// Runner 把一个任务从 OCR 推进到 TTS
// 同一任务只由一个 Runner.Run 调用写入
type Runner struct {
	store  TaskStore
	deps   Deps
	opts   Options
	logger *slog.Logger
}

// NewRunner 创建 Runner
func NewRunner(store TaskStore, deps Deps, opts Options, logger *slog.Logger) *Runner {
	opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: store, deps: deps, opts: opts, logger: logger}
}

// Run 执行任务直到终态，不向调用方返回错误
func (r *Runner) Run(ctx context.Context, taskID string) {
	logger := r.logger.With("task_id", taskID)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("❌ 任务处理异常", "panic", rec, "stack", string(debug.Stack()))
			r.store.Update(taskID, models.TaskUpdate{Error: fmt.Sprintf("处理失败: %v", rec)})
		}
	}()

	task, ok := r.store.Get(taskID)
	if !ok {
		logger.Warn("任务不存在，跳过")
		return
	}

	start := time.Now()
	logger.Info("📝 开始处理任务", "filename", task.Filename)

	result, err := r.execute(ctx, logger, task)
	if err != nil {
		logger.Error("❌ 任务失败", "error", err, "elapsed", time.Since(start).Round(time.Millisecond))
		r.store.Update(taskID, models.TaskUpdate{Error: err.Error()})
		return
	}

	r.store.Update(taskID, models.TaskUpdate{Status: models.StatusCompleted, Result: result})
	logger.Info("🎉 任务完成",
		"audio_count", len(result.AudioURLs),
		"elapsed", time.Since(start).Round(time.Millisecond))
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, task models.Task) (*models.TaskResult, error) {
	id := task.ID

	r.store.Update(id, models.TaskUpdate{
		Status:   models.StatusProcessing,
		Progress: models.StageProgress{models.StageOCR: models.StageProcessing},
	})

	ocrResult, err := r.recognize(ctx, task.SourceRef)
	if err != nil {
		return nil, err
	}
	r.store.Update(id, models.TaskUpdate{
		Status:   models.StatusOCRCompleted,
		Progress: models.StageProgress{models.StageOCR: models.StageCompleted},
	})
	logger.Info("✓ OCR 完成", "chars", len([]rune(ocrResult.FullText)), "blocks", len(ocrResult.TextBlocks))

	result := &models.TaskResult{OCR: *ocrResult, AudioURLs: map[string]string{}}
	if strings.TrimSpace(ocrResult.FullText) == "" {
		logger.Warn("⚠️ OCR 未识别到文字，跳过文本处理和语音合成")
		return result, nil
	}

	r.store.Update(id, models.TaskUpdate{
		Status:   models.StatusTextProcessing,
		Progress: models.StageProgress{models.StageTextProcessing: models.StageProcessing},
	})

	processed, err := r.processText(ctx, logger, ocrResult.FullText)
	if err != nil {
		return nil, err
	}
	result.ProcessedText = processed
	r.store.Update(id, models.TaskUpdate{
		Progress: models.StageProgress{models.StageTextProcessing: models.StageCompleted},
	})
	logger.Info("✓ 文本处理完成", "segments", len(processed.Segments))

	if r.deps.Speech == nil || r.deps.Audio == nil {
		logger.Info("未配置语音合成，跳过 TTS")
		return result, nil
	}

	r.store.Update(id, models.TaskUpdate{
		Status:   models.StatusTTSGenerating,
		Progress: models.StageProgress{models.StageTTS: models.StageProcessing},
	})
	result.AudioURLs = r.synthesizeAll(ctx, logger, id, processed)
	r.store.Update(id, models.TaskUpdate{
		Progress: models.StageProgress{models.StageTTS: models.StageCompleted},
	})

	return result, nil
}

func (r *Runner) recognize(ctx context.Context, imageRef string) (*models.OCRResult, error) {
	if r.deps.OCR == nil {
		return nil, &StageError{Stage: models.StageOCR, Message: "OCR识别失败", Err: fmt.Errorf("OCR %w", ErrNotConfigured)}
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.OCRTimeout)
	defer cancel()

	res, err := r.deps.OCR.ExtractText(ctx, imageRef, r.opts.DetectionMode)
	if err != nil {
		return nil, &StageError{Stage: models.StageOCR, Message: "OCR识别失败", Err: err}
	}
	if res == nil {
		res = &models.OCRResult{}
	}
	return res, nil
}

func (r *Runner) processText(ctx context.Context, logger *slog.Logger, raw string) (*models.ProcessedText, error) {
	n := r.opts.SentencesPerSegment

	if r.deps.Cleaner == nil {
		logger.Warn("⚠️ 文本处理模块未初始化，使用 OCR 原文")
		return &models.ProcessedText{
			MainText: raw,
			Segments: segmenter.AutoSegment(raw, n),
			Note:     NoteCleanupUnavailable,
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.CleanupTimeout)
	defer cancel()

	if sc, ok := r.deps.Cleaner.(StructuredCleaner); ok {
		parsed, response, err := sc.CleanStructured(ctx, raw)
		if err != nil {
			return nil, &StageError{Stage: models.StageTextProcessing, Message: "文本处理失败", Err: err}
		}
		if parsed == nil {
			p := segmenter.Parse(response, n)
			parsed = &p
		}
		return fromParsed(*parsed, response), nil
	}

	response, err := r.deps.Cleaner.Clean(ctx, raw)
	if err != nil {
		return nil, &StageError{Stage: models.StageTextProcessing, Message: "文本处理失败", Err: err}
	}
	return fromParsed(segmenter.Parse(response, n), response), nil
}

func fromParsed(p segmenter.ParsedText, response string) *models.ProcessedText {
	segments := p.Segments
	if segments == nil {
		segments = []string{}
	}
	return &models.ProcessedText{
		Instruction: p.Instruction,
		MainText:    p.MainText,
		Segments:    segments,
		Translation: p.Translation,
		RawResponse: response,
	}
}

// speechUnit 一个独立的合成单元
type speechUnit struct {
	key  string
	text string
}

func speechUnits(p *models.ProcessedText) []speechUnit {
	units := make([]speechUnit, 0, len(p.Segments)+2)
	for i, seg := range p.Segments {
		if strings.TrimSpace(seg) == "" {
			continue
		}
		units = append(units, speechUnit{key: fmt.Sprintf("segment_%d", i), text: seg})
	}
	if strings.TrimSpace(p.MainText) != "" {
		units = append(units, speechUnit{key: "main", text: p.MainText})
	}
	if strings.TrimSpace(p.Instruction) != "" {
		units = append(units, speechUnit{key: "instruction", text: p.Instruction})
	}
	return units
}

type speechResult struct {
	key string
	url string
	err error
}

// synthesizeAll 用固定数量的 goroutine 合成所有单元
// 单个单元失败只记录日志，不影响其他单元
func (r *Runner) synthesizeAll(ctx context.Context, logger *slog.Logger, taskID string, p *models.ProcessedText) map[string]string {
	units := speechUnits(p)
	audioURLs := make(map[string]string, len(units))
	if len(units) == 0 {
		return audioURLs
	}

	workers := r.opts.SpeechConcurrency
	if workers > len(units) {
		workers = len(units)
	}

	unitChan := make(chan speechUnit, len(units))
	resultChan := make(chan speechResult, len(units))
	for _, u := range units {
		unitChan <- u
	}
	close(unitChan)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range unitChan {
				url, err := r.synthesizeUnit(ctx, taskID, u)
				resultChan <- speechResult{key: u.key, url: url, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	failed := 0
	for res := range resultChan {
		if res.err != nil {
			failed++
			logger.Warn("⚠️ 语音合成失败，跳过该单元", "unit", res.key, "error", res.err)
			continue
		}
		audioURLs[res.key] = res.url
	}

	logger.Info("✓ 语音合成完成", "succeeded", len(audioURLs), "failed", failed)
	return audioURLs
}

func (r *Runner) synthesizeUnit(ctx context.Context, taskID string, u speechUnit) (url string, err error) {
	// 合成在独立 goroutine 中执行，panic 必须在这里收住
	defer func() {
		if rec := recover(); rec != nil {
			url, err = "", fmt.Errorf("合成异常: %v", rec)
		}
	}()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.SpeechTimeout)
	defer cancel()

	audio, err := r.deps.Speech.Synthesize(ctx, u.text, r.opts.Voice)
	if err != nil {
		return "", err
	}
	url, err = r.deps.Audio.WriteAudio(taskID, u.key, audio)
	if err != nil {
		return "", fmt.Errorf("保存音频失败: %w", err)
	}
	return url, nil
}
