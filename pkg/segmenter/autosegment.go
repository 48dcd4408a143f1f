package segmenter

import "strings"

// 句末标点之后紧跟的收尾符号归入同一句
const closers = "」』）)】”’\"'"

func isTerminal(r rune) bool {
	switch r {
	case '。', '！', '？', '!', '?':
		return true
	}
	return false
}

// AutoSegment 按句末标点和换行切句，每 sentencesPerSegment 句合成一段
// 不足一段的尾部单独成段；切不出任何段时整段文本作为唯一一段
func AutoSegment(text string, sentencesPerSegment int) []string {
	if sentencesPerSegment <= 0 {
		sentencesPerSegment = DefaultSentencesPerSegment
	}

	var segments []string
	var buf strings.Builder
	count := 0
	lineBreak := false
	for _, s := range splitSentences(text) {
		// 没有句末标点、靠换行断开的句子保留换行
		if lineBreak && buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(s.text)
		lineBreak = s.lineBreak
		count++
		if count >= sentencesPerSegment {
			segments = append(segments, buf.String())
			buf.Reset()
			count = 0
		}
	}
	if count > 0 {
		segments = append(segments, buf.String())
	}

	if len(segments) == 0 {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return []string{}
	}
	return segments
}

type sentence struct {
	text string
	// lineBreak 由换行而不是句末标点结束
	lineBreak bool
}

func splitSentences(text string) []sentence {
	var sentences []sentence
	var cur strings.Builder
	closed := false

	flush := func(lineBreak bool) {
		if s := strings.TrimSpace(cur.String()); s != "" {
			sentences = append(sentences, sentence{text: s, lineBreak: lineBreak && !closed})
		}
		cur.Reset()
		closed = false
	}

	for _, r := range text {
		switch {
		case r == '\n' || r == '\r':
			flush(true)
		case isTerminal(r):
			cur.WriteRune(r)
			closed = true
		case closed && strings.ContainsRune(closers, r):
			cur.WriteRune(r)
		default:
			if closed {
				flush(false)
			}
			cur.WriteRune(r)
		}
	}
	flush(false)
	return sentences
}
