// Package cleanup 调用大模型清洗 OCR 碎片文本并分段
package cleanup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyText 输入为空，不调用模型
var ErrEmptyText = errors.New("输入文本为空")

// maxInputLength 限制送入模型的 OCR 文本长度（按 rune 计）
const maxInputLength = 4000

const systemPrompt = "你是一个日语绘本专家，负责整理 OCR 识别出的绘本文字。"

// buildPrompt 分节格式提示词，输出由 segmenter.Parse 解析
func buildPrompt(raw string) string {
	return fmt.Sprintf(`以下是从图片中 OCR 提取的碎片内容：%s

请执行：

1. 去噪：删除页码、教材级别（如 4A）、水印等无关信息。
2. 去重：删除重复的注音假名。
3. 合并：将断行合并为自然的句子。
4. 识别指导语：识别出指导语（如"でてきたものは？げんきよく読みましょう。"这类教学指导），如果没有指导语则留空。
5. 识别正文：识别出实际的故事内容。
6. 分段：将正文按语义分成合适的段落，每段2-3句，适合单独朗读。

请严格按照以下格式输出（不要添加任何其他说明）：

指导语：
[指导语内容，如果没有则留空]

正文：
[处理后的日语正文]

分段：
[段落1]
[段落2]
[段落3]
...

中文翻译：
[对应的中文翻译]`, truncate(raw))
}

// buildJSONPrompt JSON 格式提示词
func buildJSONPrompt(raw string) string {
	return fmt.Sprintf(`以下是从图片中 OCR 提取的碎片内容：%s

请删除页码、教材级别、水印和重复的注音假名，把断行合并为自然的句子，
区分指导语和故事正文，把正文按语义分成每段2-3句的朗读段落，并给出中文翻译。

输出格式（严格遵循 JSON 格式）：
{
  "instruction": "指导语，没有则为空字符串",
  "main_text": "处理后的日语正文",
  "segments": ["段落1", "段落2"],
  "translation": "中文翻译"
}

请严格按照 JSON 格式输出，不要包含任何其他说明文字。`, truncate(raw))
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	r := []rune(text)
	if len(r) > maxInputLength {
		return string(r[:maxInputLength]) + "..."
	}
	return text
}
