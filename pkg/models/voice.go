package models

// AudioEncoding 音频编码
type AudioEncoding string

const (
	EncodingMP3      AudioEncoding = "MP3"
	EncodingLinear16 AudioEncoding = "LINEAR16"
	EncodingOggOpus  AudioEncoding = "OGG_OPUS"
)

// Ext 文件扩展名
func (e AudioEncoding) Ext() string {
	switch e {
	case EncodingLinear16:
		return ".wav"
	case EncodingOggOpus:
		return ".ogg"
	default:
		return ".mp3"
	}
}

// ContentType HTTP Content-Type
func (e AudioEncoding) ContentType() string {
	switch e {
	case EncodingLinear16:
		return "audio/wav"
	case EncodingOggOpus:
		return "audio/ogg"
	default:
		return "audio/mpeg"
	}
}

// VoiceConfig 语音合成参数
type VoiceConfig struct {
	LanguageCode  string        `yaml:"language_code" json:"language_code"`
	Name          string        `yaml:"name" json:"name"`
	SpeakingRate  float64       `yaml:"speaking_rate" json:"speaking_rate"`
	Pitch         float64       `yaml:"pitch" json:"pitch"`
	VolumeGainDB  float64       `yaml:"volume_gain_db" json:"volume_gain_db"`
	AudioEncoding AudioEncoding `yaml:"audio_encoding" json:"audio_encoding"`
	Model         string        `yaml:"model" json:"model,omitempty"`
}

// DefaultVoice 适合儿童绘本的日语女声：语速放慢、音调略高
func DefaultVoice() VoiceConfig {
	return VoiceConfig{
		LanguageCode:  "ja-JP",
		Name:          "ja-JP-Neural2-B",
		SpeakingRate:  0.75,
		Pitch:         2.0,
		VolumeGainDB:  1.0,
		AudioEncoding: EncodingMP3,
	}
}
