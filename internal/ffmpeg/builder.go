package ffmpeg

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// BaseArgs are the global flags every ffmpeg invocation starts with.
// level+info prefixes each log line with its level for ParseLogLevel.
func BaseArgs() []string {
	return []string{"-hide_banner", "-loglevel", "level+info", "-nostdin"}
}

// BuildArgs builds the ffmpeg argument list from structured parameters.
func BuildArgs(p *Params) []string {
	args := BaseArgs()

	// Input: raw browser media on stdin, no probing buffer
	args = append(args,
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-i", p.Input,
	)

	args = append(args, "-map", "0:v:0")
	if p.AudioCodec != "" {
		args = append(args, "-map", "0:a?")
	}

	// Normalize geometry and aspect so every destination sees the same frame size
	if p.Width > 0 && p.Height > 0 {
		args = append(args, "-vf", scaleFilter(p.Width, p.Height))
	}

	args = append(args, "-c:v", p.Encoder)
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	if p.Tune != "" {
		args = append(args, "-tune", p.Tune)
	}
	if p.Bitrate != "" {
		args = append(args, "-b:v", p.Bitrate, "-maxrate", p.Bitrate)
	}
	if p.BufferSize != "" {
		args = append(args, "-bufsize", p.BufferSize)
	}
	if p.PixFmt != "" {
		args = append(args, "-pix_fmt", p.PixFmt)
	}
	if p.GOP > 0 {
		gop := strconv.Itoa(p.GOP)
		args = append(args, "-g", gop, "-keyint_min", gop, "-sc_threshold", "0", "-bf", "0")
	}

	if p.AudioCodec != "" {
		args = append(args, "-c:a", p.AudioCodec)
		if p.AudioBitrate != "" {
			args = append(args, "-b:a", p.AudioBitrate)
		}
		if p.AudioSampleRate > 0 {
			args = append(args, "-ar", strconv.Itoa(p.AudioSampleRate))
		}
	}

	// Low-buffering output framing
	format := p.OutputFormat
	if format == "" {
		format = OutputFormat(p.OutputURL)
	}
	args = append(args,
		"-flush_packets", "1",
		"-muxdelay", "0",
		"-muxpreload", "0",
		"-f", format,
		p.OutputURL,
	)

	return args
}

// OutputFormat picks the container for a sink URL: flv for RTMP, mpegts otherwise.
func OutputFormat(destination string) string {
	scheme := destination
	if u, err := url.Parse(destination); err == nil && u.Scheme != "" {
		scheme = u.Scheme
	} else if i := strings.Index(destination, "://"); i > 0 {
		scheme = destination[:i]
	}

	switch strings.ToLower(scheme) {
	case "rtmp", "rtmps":
		return "flv"
	default:
		return "mpegts"
	}
}

// FormatCommand renders binary and args as a shell-like command line for display.
func FormatCommand(binary string, args []string) string {
	var cmd strings.Builder
	cmd.WriteString(binary)
	for _, arg := range args {
		cmd.WriteByte(' ')
		if arg == "" || strings.ContainsAny(arg, " \t'\"?*()") {
			cmd.WriteString(strconv.Quote(arg))
		} else {
			cmd.WriteString(arg)
		}
	}
	return cmd.String()
}

func scaleFilter(width, height int) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
		width, height, width, height,
	)
}
