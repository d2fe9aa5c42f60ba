package presets

import "sort"

// Kind partitions presets by the shape of their output.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Preset is one row of the closed output table. Requesters select a row by
// name; the argument template is an enumerated literal and never contains
// requester-supplied text.
type Preset struct {
	Name        string
	Kind        Kind
	Container   string
	Description string

	args []string
}

// Args assembles the full ffmpeg argument list for a staged input and target
// output path. Flags common to every preset are prepended here so the table
// rows stay minimal.
func (p Preset) Args(inputPath, outputPath string) []string {
	out := make([]string, 0, len(p.args)+7)
	out = append(out, "-hide_banner", "-nostdin", "-y", "-i", inputPath)
	out = append(out, p.args...)
	out = append(out, outputPath)
	return out
}

var table = map[string]Preset{
	"audio-mp3-128k": {
		Name:        "audio-mp3-128k",
		Kind:        KindAudio,
		Container:   "mp3",
		Description: "MP3 audio, 128 kbit/s",
		args:        []string{"-vn", "-c:a", "libmp3lame", "-b:a", "128k"},
	},
	"audio-mp3-192k": {
		Name:        "audio-mp3-192k",
		Kind:        KindAudio,
		Container:   "mp3",
		Description: "MP3 audio, 192 kbit/s",
		args:        []string{"-vn", "-c:a", "libmp3lame", "-b:a", "192k"},
	},
	"audio-mp3-320k": {
		Name:        "audio-mp3-320k",
		Kind:        KindAudio,
		Container:   "mp3",
		Description: "MP3 audio, 320 kbit/s",
		args:        []string{"-vn", "-c:a", "libmp3lame", "-b:a", "320k"},
	},
	"audio-opus-96k": {
		Name:        "audio-opus-96k",
		Kind:        KindAudio,
		Container:   "opus",
		Description: "Opus audio, 96 kbit/s",
		args:        []string{"-vn", "-c:a", "libopus", "-b:a", "96k"},
	},
	"video-h264-720p": {
		Name:        "video-h264-720p",
		Kind:        KindVideo,
		Container:   "mp4",
		Description: "H.264 video capped at 720p, AAC audio",
		args: []string{
			"-vf", "scale=-2:'min(720,ih)'",
			"-c:v", "libx264", "-preset", "medium", "-crf", "23",
			"-c:a", "aac", "-b:a", "128k",
			"-movflags", "+faststart",
		},
	},
	"video-h264-1080p": {
		Name:        "video-h264-1080p",
		Kind:        KindVideo,
		Container:   "mp4",
		Description: "H.264 video capped at 1080p, AAC audio",
		args: []string{
			"-vf", "scale=-2:'min(1080,ih)'",
			"-c:v", "libx264", "-preset", "medium", "-crf", "21",
			"-c:a", "aac", "-b:a", "160k",
			"-movflags", "+faststart",
		},
	},
	"video-av1-1080p": {
		Name:        "video-av1-1080p",
		Kind:        KindVideo,
		Container:   "mkv",
		Description: "SVT-AV1 video capped at 1080p, Opus audio",
		args: []string{
			"-vf", "scale=-2:'min(1080,ih)'",
			"-c:v", "libsvtav1", "-preset", "6", "-crf", "32",
			"-c:a", "libopus", "-b:a", "128k",
		},
	},
	"passthrough-mux-mp4": {
		Name:        "passthrough-mux-mp4",
		Kind:        KindVideo,
		Container:   "mp4",
		Description: "Stream copy remuxed into MP4",
		args:        []string{"-c", "copy", "-movflags", "+faststart"},
	},
}

// Lookup returns the preset for a requester-supplied name.
func Lookup(name string) (Preset, bool) {
	preset, ok := table[name]
	return preset, ok
}

// Names returns the sorted preset names for validation and CLI listings.
func Names() []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every preset ordered by name.
func All() []Preset {
	out := make([]Preset, 0, len(table))
	for _, name := range Names() {
		out = append(out, table[name])
	}
	return out
}
