package ffmpeg

// Params represents all parameters needed to generate an FFmpeg command.
// The relay uses a fixed low-latency profile; only OutputURL varies.
type Params struct {
	// Input Configuration
	Input string // pipe:0 reads media from stdin

	// Output geometry, enforced with scale+pad and square pixels
	Width  int
	Height int

	// Encoder Configuration
	Encoder    string // libx264
	Preset     string // ultrafast
	Tune       string // zerolatency
	Bitrate    string // 2500k, also used as maxrate
	BufferSize string // rate control buffer
	PixFmt     string // yuv420p

	// Keyframes: a short fixed interval bounds switch-over latency
	GOP int

	// Audio, mapped only when the input carries it
	AudioCodec      string
	AudioBitrate    string
	AudioSampleRate int

	// Output
	OutputURL    string // srt://, rtmp://, udp://, tcp://
	OutputFormat string // empty = derived from OutputURL
}

// Low-latency profile constants.
const (
	DefaultWidth      = 1280
	DefaultHeight     = 720
	DefaultBitrate    = "2500k"
	DefaultBufferSize = "5000k"
	DefaultGOP        = 30
)

// DefaultParams returns the fixed relay profile bound to destination.
func DefaultParams(destination string) *Params {
	return &Params{
		Input:           "pipe:0",
		Width:           DefaultWidth,
		Height:          DefaultHeight,
		Encoder:         "libx264",
		Preset:          "ultrafast",
		Tune:            "zerolatency",
		Bitrate:         DefaultBitrate,
		BufferSize:      DefaultBufferSize,
		PixFmt:          "yuv420p",
		GOP:             DefaultGOP,
		AudioCodec:      "aac",
		AudioBitrate:    "128k",
		AudioSampleRate: 44100,
		OutputURL:       destination,
	}
}
