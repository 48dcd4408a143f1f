package models

import "time"

// TaskStatus 任务状态
type TaskStatus string

const (
	StatusPending        TaskStatus = "pending"
	StatusProcessing     TaskStatus = "processing"
	StatusOCRCompleted   TaskStatus = "ocr_completed"
	StatusTextProcessing TaskStatus = "text_processing"
	StatusTTSGenerating  TaskStatus = "tts_generating"
	StatusCompleted      TaskStatus = "completed"
	StatusFailed         TaskStatus = "failed"
)

// statusRank 主流程中的先后顺序，Failed 不参与排序
var statusRank = map[TaskStatus]int{
	StatusPending:        0,
	StatusProcessing:     1,
	StatusOCRCompleted:   2,
	StatusTextProcessing: 3,
	StatusTTSGenerating:  4,
	StatusCompleted:      5,
}

// IsTerminal 是否为终态（Completed / Failed）
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid 是否为已知状态
func (s TaskStatus) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CanTransition 判断状态迁移是否合法
// 终态不再迁移；Failed 可从任意非终态进入；其余只能向前推进（允许跳过中间状态）
func CanTransition(from, to TaskStatus) bool {
	if from.IsTerminal() || !to.Valid() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// Stage 流水线阶段
type Stage string

const (
	StageOCR            Stage = "ocr"
	StageTextProcessing Stage = "text_processing"
	StageTTS            Stage = "tts"
)

// StageOrder 阶段的固定顺序
var StageOrder = []Stage{StageOCR, StageTextProcessing, StageTTS}

// StageState 阶段进度
type StageState string

const (
	StagePending    StageState = "pending"
	StageProcessing StageState = "processing"
	StageCompleted  StageState = "completed"
)

func (s StageState) rank() int {
	switch s {
	case StageProcessing:
		return 1
	case StageCompleted:
		return 2
	default:
		return 0
	}
}

// Covers 进度 s 是否不低于 other
func (s StageState) Covers(other StageState) bool {
	return s.rank() >= other.rank()
}

// StageProgress 各阶段进度
type StageProgress map[Stage]StageState

// NewStageProgress 所有阶段均为 pending
func NewStageProgress() StageProgress {
	p := make(StageProgress, len(StageOrder))
	for _, st := range StageOrder {
		p[st] = StagePending
	}
	return p
}

// DetectionMode OCR 识别模式
type DetectionMode string

const (
	DetectDocumentText DetectionMode = "DOCUMENT_TEXT_DETECTION"
	DetectText         DetectionMode = "TEXT_DETECTION"
)

// TextBlock OCR 文本块（段落级）
type TextBlock struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// DetectedLanguage OCR 检测到的语言
type DetectedLanguage struct {
	LanguageCode string  `json:"language_code"`
	Confidence   float64 `json:"confidence"`
}

// OCRResult OCR 识别结果
type OCRResult struct {
	FullText   string             `json:"full_text"`
	TextBlocks []TextBlock        `json:"text_blocks"`
	Language   []DetectedLanguage `json:"language"`
}

// ProcessedText 清洗、分段后的文本
type ProcessedText struct {
	Instruction string   `json:"instruction"`
	MainText    string   `json:"main_text"`
	Segments    []string `json:"segments"`
	Translation string   `json:"translation"`
	RawResponse string   `json:"raw_response,omitempty"` // LLM 原始输出
	Note        string   `json:"note,omitempty"`         // 降级处理时的说明
}

// TaskResult 任务最终结果
type TaskResult struct {
	OCR           OCRResult         `json:"ocr"`
	ProcessedText *ProcessedText    `json:"processed_text"`
	AudioURLs     map[string]string `json:"audio_urls"`
}

// Task 一次图片提交对应的任务
type Task struct {
	ID        string        `json:"task_id"`
	Filename  string        `json:"filename"`
	SourceRef string        `json:"-"`
	Status    TaskStatus    `json:"status"`
	Progress  StageProgress `json:"progress"`
	Result    *TaskResult   `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// TaskUpdate 一次状态变更
// Error 非空时状态强制为 Failed
type TaskUpdate struct {
	Status   TaskStatus
	Progress StageProgress
	Result   *TaskResult
	Error    string
}

// Clone 深拷贝，调用方拿到的快照与存储内部互不影响
func (t *Task) Clone() Task {
	out := *t
	if t.Progress != nil {
		out.Progress = make(StageProgress, len(t.Progress))
		for k, v := range t.Progress {
			out.Progress[k] = v
		}
	}
	if t.Result != nil {
		out.Result = t.Result.Clone()
	}
	return out
}

// Clone 深拷贝结果
func (r *TaskResult) Clone() *TaskResult {
	out := &TaskResult{OCR: r.OCR}
	out.OCR.TextBlocks = append([]TextBlock(nil), r.OCR.TextBlocks...)
	out.OCR.Language = append([]DetectedLanguage(nil), r.OCR.Language...)
	if r.ProcessedText != nil {
		pt := *r.ProcessedText
		pt.Segments = append([]string(nil), r.ProcessedText.Segments...)
		out.ProcessedText = &pt
	}
	if r.AudioURLs != nil {
		out.AudioURLs = make(map[string]string, len(r.AudioURLs))
		for k, v := range r.AudioURLs {
			out.AudioURLs[k] = v
		}
	}
	return out
}
