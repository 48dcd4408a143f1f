// Package segmenter 把 LLM 返回的分节文本解析为指导语、正文、分段和翻译，
// 并提供按句切分正文的自动分段。两者都是纯函数，不做任何 I/O。
package segmenter

import (
	"regexp"
	"strings"
)

// DefaultSentencesPerSegment 默认每段句子数
const DefaultSentencesPerSegment = 2

// ParsedText 解析结果
type ParsedText struct {
	Instruction string   `json:"instruction"`
	MainText    string   `json:"main_text"`
	Segments    []string `json:"segments"`
	Translation string   `json:"translation"`
}

type section int

const (
	sectionNone section = iota
	sectionInstruction
	sectionMainText
	sectionSegments
	sectionJapanese
	sectionTranslation
)

type label struct {
	section  section
	keywords []string
}

// 匹配顺序有意义："日语正文" 必须先于 "正文"，"分段" 先于 "正文"
var labels = []label{
	{sectionInstruction, []string{"指导语", "指導語"}},
	{sectionSegments, []string{"分段"}},
	{sectionJapanese, []string{"日语正文", "日语文本", "日语：", "日语:"}},
	{sectionMainText, []string{"正文"}},
	{sectionTranslation, []string{"中文翻译", "中文文本", "中文：", "中文:"}},
}

var blankLine = regexp.MustCompile(`\n[ \t\x{3000}]*\n`)

// accumulator 扫描过程中各节的累积内容
type accumulator struct {
	instruction []string
	mainText    []string
	japanese    []string
	translation []string
	segments    []string
}

func (a *accumulator) add(sec section, line string) {
	switch sec {
	case sectionInstruction:
		a.instruction = append(a.instruction, line)
	case sectionMainText:
		a.mainText = append(a.mainText, line)
	case sectionJapanese:
		a.japanese = append(a.japanese, line)
	case sectionTranslation:
		a.translation = append(a.translation, line)
	case sectionSegments:
		if !isPlaceholder(line) {
			a.segments = append(a.segments, line)
		}
	}
}

// Parse 解析分节文本
// sentencesPerSegment <= 0 时使用 DefaultSentencesPerSegment
func Parse(content string, sentencesPerSegment int) ParsedText {
	content = strings.ReplaceAll(content, "\r\n", "\n")

	var acc accumulator
	current := sectionNone
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if sec, rest, ok := detectLabel(line); ok {
			current = sec
			if rest != "" {
				acc.add(current, rest)
			}
			continue
		}
		acc.add(current, line)
	}

	pt := ParsedText{
		Instruction: strings.TrimSpace(strings.Join(acc.instruction, " ")),
		MainText:    strings.TrimSpace(strings.Join(acc.mainText, "\n")),
		Segments:    compact(acc.segments),
		Translation: strings.TrimSpace(strings.Join(acc.translation, " ")),
	}
	japanese := strings.TrimSpace(strings.Join(acc.japanese, "\n"))

	switch {
	case pt.MainText != "":
		if len(pt.Segments) == 0 {
			pt.Segments = AutoSegment(pt.MainText, sentencesPerSegment)
		}
	case japanese != "":
		pt.MainText = japanese
		if len(pt.Segments) == 0 {
			pt.Segments = AutoSegment(japanese, sentencesPerSegment)
		}
	case len(pt.Segments) > 0:
		// 只有分段没有正文
		pt.MainText = strings.Join(pt.Segments, "\n")
	case pt.Translation == "":
		// 没有正文和翻译，只识别到指导语时也退回原文
		if first, second, ok := splitParagraphs(content); ok {
			pt.MainText = first
			pt.Translation = second
		} else {
			pt.MainText = strings.TrimSpace(content)
		}
		pt.Segments = AutoSegment(pt.MainText, sentencesPerSegment)
	}

	if pt.Segments == nil {
		pt.Segments = []string{}
	}
	return pt
}

// detectLabel 判断一行是否为节标题，返回节类型和冒号后的剩余内容
func detectLabel(line string) (section, string, bool) {
	for _, l := range labels {
		for _, kw := range l.keywords {
			idx := strings.Index(line, kw)
			if idx < 0 {
				continue
			}
			after := line[idx+len(kw):]
			if !strings.HasSuffix(kw, "：") && !strings.HasSuffix(kw, ":") {
				after = afterSeparator(after)
			}
			return l.section, cleanRest(after), true
		}
	}
	return sectionNone, "", false
}

// afterSeparator 取第一个全角或半角冒号之后的内容，没有冒号返回空串
func afterSeparator(s string) string {
	full := strings.Index(s, "：")
	half := strings.Index(s, ":")
	switch {
	case full >= 0 && (half < 0 || full < half):
		return s[full+len("："):]
	case half >= 0:
		return s[half+1:]
	default:
		return ""
	}
}

func cleanRest(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "*#"))
}

func isPlaceholder(line string) bool {
	return (strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]")) ||
		(strings.HasPrefix(line, "［") && strings.HasSuffix(line, "］"))
}

// splitParagraphs 在第一个空行处把内容分成两部分
func splitParagraphs(content string) (string, string, bool) {
	content = strings.TrimSpace(content)
	loc := blankLine.FindStringIndex(content)
	if loc == nil {
		return "", "", false
	}
	first := strings.TrimSpace(content[:loc[0]])
	second := strings.TrimSpace(content[loc[1]:])
	if first == "" || second == "" {
		return "", "", false
	}
	return first, second, true
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
