package moviestructure

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// MovieInfo holds what can be read from a movie file name.
type MovieInfo struct {
	Title        string
	Year         int
	ImdbID       string
	Resolution   string
	Source       string // Remux, WEBDL, Bluray, etc.
	Quality      string // 2160p, 1080p, etc.
	AudioCodec   string
	VideoCodec   string
	ReleaseGroup string
}

var (
	standardFormat = regexp.MustCompile(`^(.+?)\s*\((\d{4})\)\s*(?:\[imdbid-(tt\d+)\])?\s*-?\s*(.*)$`)
	simpleFormat   = regexp.MustCompile(`^(.+?)\s*\((\d{4})\)\s*$`)
	whitespace     = regexp.MustCompile(`\s+`)

	qualityRegex    = regexp.MustCompile(`\b(2160p|1080p|720p|480p|4K|UHD)\b`)
	sourceRegex     = regexp.MustCompile(`\b(Remux|WEBDL|Bluray|BluRay|DVD|HDTV|WEB-DL|WEBRip|BDRip|DVDRip|CAM|TS)\b`)
	videoCodecRegex = regexp.MustCompile(`\b(HEVC|h265|x265|h264|x264|AVC|VC1|XviD|DivX)\b`)
	audioCodecRegex = regexp.MustCompile(`\b(DTS-HD\s*MA|DTS-HD|TrueHD|Atmos|DTS-X|DTS|AC3|EAC3|AAC|MP3|FLAC|PCM)\b`)
	groupRegex      = regexp.MustCompile(`-([A-Za-z0-9]+)(?:\.[a-z]+)?$`)
)

// ParseMovieFilename reads movie information from a path. The patterns tried are
//
//	Movie Title (Year) [imdbid-ttXXXXXX] - [Quality][Audio][Video]-Group
//	Movie Title (Year)
//	Movie.Title.Year.Quality.Source-Group
//
// It returns nil when none match.
func ParseMovieFilename(filePath string) *MovieInfo {
	name := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))

	info := parseStandardFormat(name)
	if info == nil {
		info = parseSimpleFormat(name)
	}
	if info == nil {
		info = parseDotFormat(name)
	}
	if info == nil {
		return nil
	}

	extractAdditionalMetadata(info, name)
	info.Title = cleanMovieTitle(info.Title)
	return info
}

func parseStandardFormat(name string) *MovieInfo {
	matches := standardFormat.FindStringSubmatch(name)
	if len(matches) < 3 {
		return nil
	}
	year, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil
	}
	info := &MovieInfo{Title: strings.TrimSpace(matches[1]), Year: year}
	if len(matches) > 3 && matches[3] != "" {
		info.ImdbID = matches[3]
	}
	return info
}

func parseSimpleFormat(name string) *MovieInfo {
	matches := simpleFormat.FindStringSubmatch(name)
	if len(matches) < 3 {
		return nil
	}
	year, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil
	}
	return &MovieInfo{Title: strings.TrimSpace(matches[1]), Year: year}
}

func parseDotFormat(name string) *MovieInfo {
	parts := strings.Split(name, ".")
	if len(parts) < 3 {
		return nil
	}
	for i, part := range parts {
		if len(part) != 4 {
			continue
		}
		y, err := strconv.Atoi(part)
		if err != nil || y < 1900 || y > 2100 {
			continue
		}
		if i == 0 {
			return nil
		}
		// title is everything before the year
		return &MovieInfo{Title: strings.Join(parts[:i], " "), Year: y}
	}
	return nil
}

func cleanMovieTitle(title string) string {
	title = strings.Trim(strings.TrimSpace(title), ".-_")
	if strings.Count(title, ".") > strings.Count(title, " ") {
		title = strings.ReplaceAll(title, ".", " ")
	}
	title = strings.ReplaceAll(title, "_", " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(title, " "))
}

func extractAdditionalMetadata(info *MovieInfo, name string) {
	if match := qualityRegex.FindString(name); match != "" {
		info.Quality = match
		info.Resolution = match
	}
	if match := sourceRegex.FindString(name); match != "" {
		info.Source = match
	}
	if match := videoCodecRegex.FindString(name); match != "" {
		info.VideoCodec = match
	}
	if match := audioCodecRegex.FindString(name); match != "" {
		info.AudioCodec = match
	}
	if matches := groupRegex.FindStringSubmatch(name); len(matches) > 1 {
		info.ReleaseGroup = matches[1]
	}
}
