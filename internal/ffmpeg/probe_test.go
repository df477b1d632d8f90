package ffmpeg

import "testing"

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{
			name:   "release build",
			output: "ffmpeg version 6.1.1-3ubuntu5 Copyright (c) 2000-2023 the FFmpeg developers\nbuilt with gcc 13\n",
			want:   "6.1.1-3ubuntu5",
		},
		{
			name:   "git build",
			output: "ffmpeg version N-113011-g0d3a1a3b2a Copyright (c) 2000-2024",
			want:   "N-113011-g0d3a1a3b2a",
		},
		{
			name:    "not ffmpeg",
			output:  "usage: something else\n",
			wantErr: true,
		},
		{
			name:    "empty",
			output:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVersion(tt.output)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseVersion() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseVersion() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestListsEncoder(t *testing.T) {
	output := `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`
	tests := []struct {
		encoder string
		want    bool
	}{
		{"libx264", true},
		{"aac", true},
		{"h264_vaapi", true},
		{"libx265", false},
		{"Video", false},
	}

	for _, tt := range tests {
		if got := listsEncoder(output, tt.encoder); got != tt.want {
			t.Errorf("listsEncoder(%q) = %v, want %v", tt.encoder, got, tt.want)
		}
	}
}
