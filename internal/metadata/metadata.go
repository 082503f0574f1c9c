// Package metadata extracts title, artist, album, track number and
// embedded cover art from uploaded audio files.
package metadata

import (
	"bytes"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"
)

// Info holds whatever could be read from the file. Missing fields stay
// zero; the caller decides on fallbacks.
type Info struct {
	Title       string
	Artist      string
	Album       string
	TrackNumber int
	Duration    float64
	Cover       []byte
}

// Probe reads tags from the audio data. Format is chosen by file
// extension first, with dhowden/tag as the generic fallback for
// anything it can sniff (MP4/M4A, OGG). A file with no readable tags
// still yields a usable Info: the title falls back to the filename.
func Probe(filename string, data []byte) *Info {
	info := &Info{}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".flac":
		probeFLAC(data, info)
	case ".mp3":
		probeMP3(data, info)
	default:
		probeGeneric(data, info)
	}

	// dhowden/tag covers formats the dedicated parsers miss, and fills
	// gaps when a dedicated parse came back partial.
	if info.Title == "" || info.Artist == "" || info.Album == "" {
		probeGeneric(data, info)
	}

	if info.Title == "" {
		info.Title = TitleFromFilename(filename)
	}
	return info
}

// TitleFromFilename strips the extension and tidies separators so an
// untagged upload still gets a readable title.
func TitleFromFilename(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.Join(strings.Fields(base), " ")
}

func probeFLAC(data []byte, info *Info) {
	f, err := flac.ParseBytes(bytes.NewReader(data))
	if err != nil {
		return
	}

	if si, err := f.GetStreamInfo(); err == nil && si.SampleRate > 0 {
		info.Duration = float64(si.SampleCount) / float64(si.SampleRate)
	}

	for _, block := range f.Meta {
		switch block.Type {
		case flac.VorbisComment:
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				continue
			}
			info.Title = firstVorbisField(cmt, flacvorbis.FIELD_TITLE, info.Title)
			info.Artist = firstVorbisField(cmt, flacvorbis.FIELD_ARTIST, info.Artist)
			info.Album = firstVorbisField(cmt, flacvorbis.FIELD_ALBUM, info.Album)
			if num := firstVorbisField(cmt, flacvorbis.FIELD_TRACKNUMBER, ""); num != "" {
				info.TrackNumber = parseTrackNumber(num)
			}
		case flac.Picture:
			if len(info.Cover) > 0 {
				continue
			}
			pic, err := flacpicture.ParseFromMetaDataBlock(*block)
			if err == nil && pic.PictureType == flacpicture.PictureTypeFrontCover {
				info.Cover = pic.ImageData
			}
		}
	}
}

func firstVorbisField(cmt *flacvorbis.MetaDataBlockVorbisComment, field, fallback string) string {
	values, err := cmt.Get(field)
	if err != nil || len(values) == 0 {
		return fallback
	}
	return values[0]
}

func probeMP3(data []byte, info *Info) {
	t, err := id3v2.ParseReader(bytes.NewReader(data), id3v2.Options{Parse: true})
	if err != nil {
		return
	}
	defer t.Close()

	info.Title = t.Title()
	info.Artist = t.Artist()
	info.Album = t.Album()

	trackFrame := t.GetTextFrame(t.CommonID("Track number/Position in set"))
	info.TrackNumber = parseTrackNumber(trackFrame.Text)

	for _, frame := range t.GetFrames(t.CommonID("Attached picture")) {
		pic, ok := frame.(id3v2.PictureFrame)
		if !ok {
			continue
		}
		if pic.PictureType == id3v2.PTFrontCover || len(info.Cover) == 0 {
			info.Cover = pic.Picture
		}
		if pic.PictureType == id3v2.PTFrontCover {
			break
		}
	}
}

func probeGeneric(data []byte, info *Info) {
	m, err := tag.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return
	}

	if info.Title == "" {
		info.Title = m.Title()
	}
	if info.Artist == "" {
		info.Artist = m.Artist()
	}
	if info.Album == "" {
		info.Album = m.Album()
	}
	if info.TrackNumber == 0 {
		num, _ := m.Track()
		info.TrackNumber = num
	}
	if len(info.Cover) == 0 {
		if pic := m.Picture(); pic != nil {
			info.Cover = pic.Data
		}
	}
}

// parseTrackNumber handles both "7" and "7/12" framings.
func parseTrackNumber(s string) int {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '/'); idx != -1 {
		s = s[:idx]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// CoverMIME sniffs the image type of extracted cover bytes.
func CoverMIME(data []byte) string {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
