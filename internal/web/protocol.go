package web

import (
	"encoding/json"

	"github.com/MrWong99/voxconv/internal/notice"
	"github.com/MrWong99/voxconv/internal/shell"
	"github.com/MrWong99/voxconv/internal/synthesis"
	"github.com/MrWong99/voxconv/internal/transcription"
)

// Client → server message types. Binary frames carry microphone audio.
const (
	cmdPing       = "ping"
	cmdTab        = "tab.set"
	cmdVoice      = "tts.voice"
	cmdRate       = "tts.rate"
	cmdPitch      = "tts.pitch"
	cmdSpeak      = "tts.speak"
	cmdCancel     = "tts.cancel"
	cmdStart      = "stt.start"
	cmdPause      = "stt.pause"
	cmdResume     = "stt.resume"
	cmdStop       = "stt.stop"
	cmdClear      = "stt.clear"
	cmdLanguage   = "stt.language"
	cmdFormat     = "stt.format"
	cmdStats      = "stt.stats"
	cmdMicGranted = "mic.granted"
	cmdMicDenied  = "mic.denied"
)

// Server → client message types. Binary frames carry synthesised PCM.
const (
	msgHello      = "hello"
	msgPong       = "pong"
	msgView       = "view"
	msgTTSState   = "tts.state"
	msgSTTState   = "stt.state"
	msgSTTMeter   = "stt.meter"
	msgSTTStats   = "stt.stats"
	msgNotice     = "notice"
	msgError      = "error"
	msgMicRequest = "mic.request"
	msgMicRelease = "mic.release"
)

// Microphone encodings a client may announce in mic.granted.
const (
	encodingPCM16 = "pcm16"
	encodingOpus  = "opus"
)

// command is any client message. Fields are populated per Type.
type command struct {
	Type     string     `json:"type"`
	Tab      shell.Tab  `json:"tab,omitempty"`
	VoiceID  string     `json:"voice_id,omitempty"`
	Value    float64    `json:"value,omitempty"`
	Text     string     `json:"text,omitempty"`
	Language string     `json:"language,omitempty"`
	Format   *micFormat `json:"format,omitempty"`
	Encoding string     `json:"encoding,omitempty"`
}

type micFormat struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// message is any server message.
type message struct {
	Type          string                  `json:"type"`
	View          *shell.Snapshot         `json:"view,omitempty"`
	Synthesis     *synthesis.Snapshot     `json:"synthesis,omitempty"`
	Transcription *transcription.Snapshot `json:"transcription,omitempty"`
	Meter         *transcription.Meter    `json:"meter,omitempty"`
	Stats         *transcription.Stats    `json:"stats,omitempty"`
	Notice        *notice.Notice          `json:"notice,omitempty"`
	Error         string                  `json:"error,omitempty"`
	Request       string                  `json:"request,omitempty"`
}

func encode(m message) []byte {
	b, err := json.Marshal(m)
	if err != nil {
		// Every field is a plain value type.
		panic("web: encode message: " + err.Error())
	}
	return b
}
